// SPDX-License-Identifier: AGPL-3.0-or-later
// iaxhub - an in-process telephony message bus and IAX2 transaction core
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes iaxhub's Prometheus metrics: message dispatcher
// throughput/latency/queue depth and IAX2 transaction frame/retransmission
// counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements message.Recorder against Prometheus collectors and
// additionally exposes transaction-level counters the IAX2 engine records
// directly.
type Metrics struct {
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	QueueDepth       prometheus.Gauge
	QueueAgeMillis   prometheus.Gauge

	FramesSentTotal       *prometheus.CounterVec
	FramesReceivedTotal   *prometheus.CounterVec
	RetransmissionsTotal  prometheus.Counter
	TransactionTimeouts   prometheus.Counter
	OutOfOrderFramesTotal prometheus.Counter
}

// NewMetrics builds and registers the full metric set.
func NewMetrics() *Metrics {
	m := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iaxhub_dispatch_total",
			Help: "The total number of message dispatches, by handler and outcome",
		}, []string{"handler", "accepted"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iaxhub_dispatch_duration_seconds",
			Help:    "Duration of a single handler invocation",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iaxhub_dispatcher_queue_depth",
			Help: "The current number of messages queued for asynchronous dispatch",
		}),
		QueueAgeMillis: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iaxhub_dispatcher_queue_age_milliseconds",
			Help: "Smoothed average age, in milliseconds, of a message when it is dequeued",
		}),
		FramesSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iaxhub_iax_frames_sent_total",
			Help: "The total number of IAX2 full frames sent, by frame type",
		}, []string{"type"}),
		FramesReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iaxhub_iax_frames_received_total",
			Help: "The total number of IAX2 full frames received, by frame type",
		}, []string{"type"}),
		RetransmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iaxhub_iax_retransmissions_total",
			Help: "The total number of IAX2 frame retransmissions",
		}),
		TransactionTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iaxhub_iax_transaction_timeouts_total",
			Help: "The total number of IAX2 transactions that exhausted their retransmission budget",
		}),
		OutOfOrderFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iaxhub_iax_out_of_order_frames_total",
			Help: "The total number of inbound frames observed out of sequence order",
		}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	prometheus.MustRegister(
		m.DispatchTotal,
		m.DispatchDuration,
		m.QueueDepth,
		m.QueueAgeMillis,
		m.FramesSentTotal,
		m.FramesReceivedTotal,
		m.RetransmissionsTotal,
		m.TransactionTimeouts,
		m.OutOfOrderFramesTotal,
	)
}

// RecordDispatch implements message.Recorder.
func (m *Metrics) RecordDispatch(handlerName string, dur time.Duration, accepted bool) {
	status := "rejected"
	if accepted {
		status = "accepted"
	}
	m.DispatchTotal.WithLabelValues(handlerName, status).Inc()
	m.DispatchDuration.WithLabelValues(handlerName).Observe(dur.Seconds())
}

// RecordQueueDepth implements message.Recorder.
func (m *Metrics) RecordQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordQueueAge implements message.Recorder.
func (m *Metrics) RecordQueueAge(ageMillis float64) {
	m.QueueAgeMillis.Set(ageMillis)
}

// RecordFrameSent increments the sent-frame counter for the given frame type.
func (m *Metrics) RecordFrameSent(frameType string) {
	m.FramesSentTotal.WithLabelValues(frameType).Inc()
}

// RecordFrameReceived increments the received-frame counter for the given
// frame type.
func (m *Metrics) RecordFrameReceived(frameType string) {
	m.FramesReceivedTotal.WithLabelValues(frameType).Inc()
}

// RecordRetransmission increments the retransmission counter.
func (m *Metrics) RecordRetransmission() {
	m.RetransmissionsTotal.Inc()
}

// RecordTransactionTimeout increments the transaction-timeout counter.
func (m *Metrics) RecordTransactionTimeout() {
	m.TransactionTimeouts.Inc()
}

// RecordOutOfOrderFrames adds a transaction's lifetime out-of-order count
// to the counter, recorded when the transaction is reaped.
func (m *Metrics) RecordOutOfOrderFrames(n uint64) {
	m.OutOfOrderFramesTotal.Add(float64(n))
}
