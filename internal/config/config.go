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

// Package config defines iaxhub's typed configuration surface, loaded by
// github.com/USA-RedDragon/configulator from environment, flags and
// defaults.
package config

import (
	"time"

	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
)

// Config is the root configuration object, loaded by configulator.FromContext.
type Config struct {
	LogLevel   LogLevel   `name:"log-level" default:"info" description:"Logging level: debug, info, warn, error"`
	Dispatcher Dispatcher `name:"dispatcher"`
	IAX        IAX        `name:"iax"`
	Metrics    Metrics    `name:"metrics"`
	PProf      PProf      `name:"pprof"`
	Redis      Redis      `name:"redis"`
}

// Dispatcher configures the in-process message bus.
type Dispatcher struct {
	// WarnTime is the duration after which a slow handler invocation is
	// logged as a warning. Zero disables the warning.
	WarnTime time.Duration `name:"warn-time" default:"100ms" description:"Log a warning when a handler takes longer than this"`
	// QueueAgeSmoothing is the exponential smoothing factor applied to the
	// average queue age gauge.
	QueueAgeSmoothing float64 `name:"queue-age-smoothing" default:"0.1" description:"Smoothing factor for the average queue age gauge"`
}

// IAX configures the IAX2 transaction engine.
type IAX struct {
	Bind string `name:"bind" default:"0.0.0.0" description:"Address to bind the IAX2 UDP socket to"`
	Port int    `name:"port" default:"4569" description:"UDP port for the IAX2 socket"`

	RetransCount    int           `name:"retrans-count" default:"5" description:"Maximum number of retransmissions before a transaction times out"`
	RetransInterval time.Duration `name:"retrans-interval" default:"1s" description:"Interval between retransmissions of an unacknowledged frame"`
	PingInterval    time.Duration `name:"ping-interval" default:"20s" description:"Interval between keepalive Ping frames on a quiet connected call"`

	TransactionTimeout time.Duration `name:"transaction-timeout" default:"1m" description:"Maximum time a transaction may remain unacknowledged before it is destroyed"`
	MaxInFrames        int           `name:"max-in-frames" default:"100" description:"Maximum queued inbound frames per transaction before new ones are dropped"`

	DefaultFormat     iaxconst.Codec `name:"default-format" default:"4" description:"Default media format bit (ULAW) offered in New requests"`
	DefaultCapability iaxconst.Codec `name:"default-capability" default:"15" description:"Default capability mask offered in New requests"`
}

// Metrics configures the Prometheus metrics server.
type Metrics struct {
	Enabled      bool   `name:"enabled" default:"false" description:"Whether to serve Prometheus metrics"`
	Bind         string `name:"bind" default:"0.0.0.0" description:"Address to bind the metrics server to"`
	Port         int    `name:"port" default:"9100" description:"Port for the metrics server"`
	OTLPEndpoint string `name:"otlp-endpoint" default:"" description:"OTLP gRPC endpoint for trace export; empty disables tracing"`
}

// PProf configures the net/http/pprof profiling server.
type PProf struct {
	Enabled bool   `name:"enabled" default:"false" description:"Whether to serve pprof profiles"`
	Bind    string `name:"bind" default:"127.0.0.1" description:"Address to bind the pprof server to"`
	Port    int    `name:"port" default:"6060" description:"Port for the pprof server"`
}

// Redis configures the optional post-hook telemetry sink.
type Redis struct {
	Enabled  bool   `name:"enabled" default:"false" description:"Whether to publish a post-hook summary of every dispatched message to Redis"`
	Host     string `name:"host" default:"localhost" description:"Redis host"`
	Port     int    `name:"port" default:"6379" description:"Redis port"`
	Password string `name:"password" default:"" description:"Redis password"`
}
