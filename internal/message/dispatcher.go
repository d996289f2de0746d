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

package message

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
)

// Recorder receives dispatcher telemetry. internal/metrics implements this
// against Prometheus; tests can use a no-op or a counting fake.
type Recorder interface {
	RecordDispatch(handlerName string, dur time.Duration, accepted bool)
	RecordQueueDepth(depth int)
	RecordQueueAge(ageMillis float64)
}

type noopRecorder struct{}

func (noopRecorder) RecordDispatch(string, time.Duration, bool) {}
func (noopRecorder) RecordQueueDepth(int)                        {}
func (noopRecorder) RecordQueueAge(float64)                      {}

const defaultTrackParam = "handlers"

// defaultAgeSmoothing is the exponential smoothing factor for the average
// queue age gauge when no override is configured.
const defaultAgeSmoothing = 0.1

// Dispatcher owns a priority-ordered handler list for synchronous delivery,
// a FIFO queue for asynchronous delivery, and a post-hook list for
// observing every dispatched message. The handler list tolerates
// installs/uninstalls from within a handler's own invocation: Dispatch
// detects the mutation and resumes from the correct position rather than
// skipping or re-running handlers. See resumeIndex.
type Dispatcher struct {
	handlersMu sync.RWMutex
	handlers   []*Handler
	changes    uint64

	hooksMu   sync.RWMutex
	hooks     []*PostHook
	hookHole  int
	hookCount int32

	messagesMu sync.Mutex
	messages   []*Message
	head       int

	warnTime     time.Duration
	trackParam   string
	ageSmoothing float64
	recorder     Recorder
	log          *slog.Logger

	peakDepth    int
	avgAgeMillis float64
	enqueued     uint64
	dequeued     uint64
	dispatched   atomic.Uint64
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithWarnTime sets the duration after which a slow handler invocation is
// logged as a warning. Zero disables the warning.
func WithWarnTime(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.warnTime = d }
}

// WithRecorder installs a telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(disp *Dispatcher) { disp.recorder = r }
}

// WithTrackParam overrides the parameter name used to record which
// handlers ran and how long they took. Defaults to "handlers".
func WithTrackParam(name string) Option {
	return func(disp *Dispatcher) { disp.trackParam = name }
}

// WithQueueAgeSmoothing sets the exponential smoothing factor applied to
// the average queue age gauge. Values outside (0, 1] are ignored, keeping
// the default.
func WithQueueAgeSmoothing(factor float64) Option {
	return func(disp *Dispatcher) {
		if factor > 0 && factor <= 1 {
			disp.ageSmoothing = factor
		}
	}
}

// WithLogger installs a logger for warnings and debug tracing.
func WithLogger(l *slog.Logger) Option {
	return func(disp *Dispatcher) { disp.log = l }
}

// NewDispatcher returns an empty, ready-to-use Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	disp := &Dispatcher{
		warnTime:     100 * time.Millisecond,
		trackParam:   defaultTrackParam,
		ageSmoothing: defaultAgeSmoothing,
		recorder:     noopRecorder{},
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(disp)
	}
	return disp
}

// Install adds h to the handler list in priority order. It reports false
// if h is already installed (in this or another Dispatcher).
func (d *Dispatcher) Install(h *Handler) bool {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()

	if h.dispatcher != nil {
		return false
	}
	idx := 0
	for idx < len(d.handlers) && less(d.handlers[idx], h) {
		idx++
	}
	d.handlers = append(d.handlers, nil)
	copy(d.handlers[idx+1:], d.handlers[idx:])
	d.handlers[idx] = h
	h.dispatcher = d
	d.changes++
	return true
}

// Uninstall removes h from the handler list and blocks until no in-flight
// Dispatch is still executing it. It is safe to call from within a
// handler's own invocation (including h's own), including concurrently
// with other installs/uninstalls.
func (d *Dispatcher) Uninstall(h *Handler) {
	d.handlersMu.Lock()
	idx := -1
	for i, cand := range d.handlers {
		if cand == h {
			idx = i
			break
		}
	}
	if idx == -1 {
		d.handlersMu.Unlock()
		return
	}
	d.handlers = append(d.handlers[:idx], d.handlers[idx+1:]...)
	h.dispatcher = nil
	d.changes++
	d.handlersMu.Unlock()

	for h.unsafeCount.Load() != 0 {
		runtime.Gosched()
	}
}

// resumeIndex is called with handlersMu held for reading after a handler
// invocation observed a list mutation. It returns the index to resume
// iteration from: just past last if last is still installed (it already
// ran this round), or at the first handler whose (priority, addr) key
// sorts after last's, so an inserted-before handler is not skipped and a
// removed handler is not missed.
func (d *Dispatcher) resumeIndex(last *Handler) int {
	for i, cand := range d.handlers {
		if cand == last {
			return i + 1
		}
	}
	addr := last.addr()
	for i, cand := range d.handlers {
		if greaterKey(cand, last.Priority, addr) {
			return i
		}
	}
	return len(d.handlers)
}

// Dispatch synchronously delivers msg to every matching handler in
// priority order. For a non-broadcast message, delivery stops at the
// first handler that accepts it. Dispatch returns true if any handler
// accepted the message. Post hooks always run afterward, once, regardless
// of outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) bool {
	_, span := otel.Tracer("iaxhub").Start(ctx, "Dispatcher.Dispatch")
	defer span.End()

	msg.timeStarted = time.Now()
	accepted := false
	d.dispatched.Add(1)

	d.handlersMu.RLock()
	changesSnapshot := d.changes
	idx := 0
	for idx < len(d.handlers) {
		h := d.handlers[idx]
		if !h.matches(msg) {
			idx++
			continue
		}

		h.unsafeCount.Add(1)
		d.handlersMu.RUnlock()

		got := d.invokeTracked(h, msg)
		if got {
			accepted = true
		}

		h.unsafeCount.Add(-1)

		d.handlersMu.RLock()
		if d.changes != changesSnapshot {
			changesSnapshot = d.changes
			idx = d.resumeIndex(h)
		} else {
			idx++
		}

		if got && !msg.Broadcast {
			break
		}
	}
	d.handlersMu.RUnlock()

	msg.timeFinished = time.Now()
	if d.warnTime > 0 {
		if total := msg.timeFinished.Sub(msg.timeStarted); total > d.warnTime {
			d.log.Warn("slow message dispatch",
				"message", msg.Name, "params", msg.Params.String(), "duration", total)
		}
	}
	d.runPostHooks(msg, accepted)
	return accepted
}

func (d *Dispatcher) invokeTracked(h *Handler, msg *Message) bool {
	var offset int
	tracking := h.TrackName != ""
	if tracking {
		msg.trackMu.Lock()
		cur := msg.Params.GetValue(d.trackParam)
		if cur != "" {
			msg.Params.Append(d.trackParam, ",")
			cur += ","
		}
		offset = len(cur)
		msg.Params.Append(d.trackParam, h.TrackName)
		msg.trackMu.Unlock()
	}

	start := time.Now()
	got := h.invoke(msg)
	dur := time.Since(start)

	if tracking && !h.TrackNameOnly {
		msg.trackMu.Lock()
		cur := msg.Params.GetValue(d.trackParam)
		suffixPos := offset + len(h.TrackName)
		// suffixPos may already carry a '#'-patch from a stale re-entrant
		// dispatch of this same handler; only patch an unpatched slot.
		alreadyPatched := suffixPos < len(cur) && cur[suffixPos] == '#'
		if suffixPos <= len(cur) && !alreadyPatched {
			patched := cur[:suffixPos] + fmt.Sprintf("#%.3f", dur.Seconds()) + cur[suffixPos:]
			msg.Params.Set(d.trackParam, patched)
		}
		msg.trackMu.Unlock()
	}

	d.recorder.RecordDispatch(h.Name, dur, got)
	if d.warnTime > 0 && dur > d.warnTime {
		d.log.Warn("slow message handler", "handler", h.Name, "message", msg.Name, "duration", dur)
	}
	return got
}

// InstallPostHook registers h. Post hooks run in install order.
func (d *Dispatcher) InstallPostHook(h *PostHook) {
	d.hooksMu.Lock()
	d.hooks = append(d.hooks, h)
	d.hooksMu.Unlock()
}

// UninstallPostHook removes h. The backing slot is tombstoned, not
// spliced, so any in-flight iteration over the old slice stays valid; the
// slot is compacted out once no iteration is in flight.
func (d *Dispatcher) UninstallPostHook(h *PostHook) {
	d.hooksMu.Lock()
	for i, cand := range d.hooks {
		if cand == h {
			d.hooks[i] = nil
			d.hookHole++
			break
		}
	}
	d.hooksMu.Unlock()
}

func (d *Dispatcher) runPostHooks(msg *Message, accepted bool) {
	d.hooksMu.RLock()
	atomic.AddInt32(&d.hookCount, 1)
	hooks := d.hooks
	d.hooksMu.RUnlock()

	for _, h := range hooks {
		if h == nil || !h.matches(msg) {
			continue
		}
		h.Handle(msg, accepted)
	}

	if atomic.AddInt32(&d.hookCount, -1) == 0 {
		d.compactHooks()
	}
}

func (d *Dispatcher) compactHooks() {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	if d.hookHole == 0 {
		return
	}
	live := d.hooks[:0]
	for _, h := range d.hooks {
		if h != nil {
			live = append(live, h)
		}
	}
	d.hooks = live
	d.hookHole = 0
}

// Enqueue appends msg to the async FIFO queue for later delivery via
// Dequeue/DequeueOne. It reports false if msg is already queued.
func (d *Dispatcher) Enqueue(msg *Message) bool {
	d.messagesMu.Lock()
	defer d.messagesMu.Unlock()

	for _, m := range d.messages[d.head:] {
		if m == msg {
			return false
		}
	}
	msg.timeEnqueued = time.Now()
	d.messages = append(d.messages, msg)
	d.enqueued++
	depth := len(d.messages) - d.head
	if depth > d.peakDepth {
		d.peakDepth = depth
	}
	d.recorder.RecordQueueDepth(depth)
	return true
}

// QueueDepth reports the number of messages currently queued.
func (d *Dispatcher) QueueDepth() int {
	d.messagesMu.Lock()
	defer d.messagesMu.Unlock()
	return len(d.messages) - d.head
}

const compactThreshold = 1024

// DequeueOne pops and dispatches the oldest queued message. It reports
// false if the queue was empty.
func (d *Dispatcher) DequeueOne(ctx context.Context) bool {
	d.messagesMu.Lock()
	if d.head >= len(d.messages) {
		d.messagesMu.Unlock()
		return false
	}
	msg := d.messages[d.head]
	d.head++
	d.dequeued++
	if d.head > compactThreshold && d.head*2 > len(d.messages) {
		remaining := append([]*Message(nil), d.messages[d.head:]...)
		d.messages = remaining
		d.head = 0
	}

	age := time.Since(msg.timeEnqueued)
	if age <= time.Minute {
		ms := float64(age.Microseconds()) / 1000.0
		d.avgAgeMillis = d.avgAgeMillis*(1-d.ageSmoothing) + ms*d.ageSmoothing
		d.recorder.RecordQueueAge(d.avgAgeMillis)
	}
	d.messagesMu.Unlock()

	d.Dispatch(ctx, msg)
	return true
}

// Dequeue drains the async queue, dispatching every currently queued
// message, and returns how many it processed. Messages enqueued by a
// handler while Dequeue is running are processed in the same pass.
func (d *Dispatcher) Dequeue(ctx context.Context) int {
	n := 0
	for d.DequeueOne(ctx) {
		n++
	}
	return n
}

// Stats reports lifetime queue counters: how many messages have been
// enqueued and dequeued, how many Dispatch calls have run (synchronous
// calls and dequeued ones alike), and the highest queue depth observed.
func (d *Dispatcher) Stats() (enqueued, dequeued, dispatched, queueMax uint64) {
	d.messagesMu.Lock()
	enqueued, dequeued, queueMax = d.enqueued, d.dequeued, uint64(d.peakDepth)
	d.messagesMu.Unlock()
	dispatched = d.dispatched.Load()
	return
}

// HandlerCount reports the number of handlers currently installed.
func (d *Dispatcher) HandlerCount() int {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()
	return len(d.handlers)
}

// PostHookCount reports the number of post hooks currently installed,
// including any tombstoned slot not yet compacted out.
func (d *Dispatcher) PostHookCount() int {
	d.hooksMu.RLock()
	defer d.hooksMu.RUnlock()
	return len(d.hooks)
}

// HandlerInfo describes one installed Handler for diagnostics.
type HandlerInfo struct {
	Name      string
	Priority  uint
	TrackName string
	HasFilter bool
}

// Handlers returns diagnostic info for every installed handler whose Name
// matches nameMatch (an empty nameMatch matches every handler, mirroring
// the empty-name wildcard a Handler itself uses to match any message).
func (d *Dispatcher) Handlers(nameMatch string) []HandlerInfo {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()

	var out []HandlerInfo
	for _, h := range d.handlers {
		if nameMatch != "" && h.Name != nameMatch {
			continue
		}
		out = append(out, HandlerInfo{
			Name:      h.Name,
			Priority:  h.Priority,
			TrackName: h.TrackName,
			HasFilter: h.Filter != nil,
		})
	}
	return out
}
