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

package config

import "errors"

var (
	// ErrInvalidLogLevel indicates that the provided log level is not valid.
	ErrInvalidLogLevel = errors.New("invalid log level provided")
	// ErrInvalidDispatcherWarnTime indicates a negative dispatcher warn time.
	ErrInvalidDispatcherWarnTime = errors.New("dispatcher warn time must not be negative")
	// ErrInvalidDispatcherSmoothing indicates a queue-age smoothing factor
	// outside (0, 1].
	ErrInvalidDispatcherSmoothing = errors.New("dispatcher queue-age smoothing factor must be in (0, 1]")
	// ErrInvalidIAXBind indicates that the provided IAX2 bind address is not valid.
	ErrInvalidIAXBind = errors.New("invalid IAX2 bind address provided")
	// ErrInvalidIAXPort indicates that the provided IAX2 port is not valid.
	ErrInvalidIAXPort = errors.New("invalid IAX2 port provided")
	// ErrInvalidIAXRetransCount indicates a non-positive retransmission count.
	ErrInvalidIAXRetransCount = errors.New("IAX2 retransmission count must be positive")
	// ErrInvalidIAXRetransInterval indicates a non-positive retransmission interval.
	ErrInvalidIAXRetransInterval = errors.New("IAX2 retransmission interval must be positive")
	// ErrInvalidIAXPingInterval indicates a non-positive ping interval.
	ErrInvalidIAXPingInterval = errors.New("IAX2 ping interval must be positive")
	// ErrInvalidIAXTransactionTimeout indicates a non-positive transaction timeout.
	ErrInvalidIAXTransactionTimeout = errors.New("IAX2 transaction timeout must be positive")
	// ErrInvalidIAXMaxInFrames indicates a non-positive max inbound frame count.
	ErrInvalidIAXMaxInFrames = errors.New("IAX2 max inbound frames must be positive")
	// ErrInvalidRedisHost indicates that the provided Redis host is not valid.
	ErrInvalidRedisHost = errors.New("invalid Redis host provided")
	// ErrInvalidRedisPort indicates that the provided Redis port is not valid.
	ErrInvalidRedisPort = errors.New("invalid Redis port provided")
	// ErrInvalidMetricsBindAddress indicates that the provided metrics server bind address is not valid.
	ErrInvalidMetricsBindAddress = errors.New("invalid metrics server bind address provided")
	// ErrInvalidMetricsPort indicates that the provided metrics server port is not valid.
	ErrInvalidMetricsPort = errors.New("invalid metrics server port provided")
	// ErrInvalidPProfBindAddress indicates that the provided PProf server bind address is not valid.
	ErrInvalidPProfBindAddress = errors.New("invalid PProf server bind address provided")
	// ErrInvalidPProfPort indicates that the provided PProf server port is not valid.
	ErrInvalidPProfPort = errors.New("invalid PProf server port provided")
)

// Validate validates the Dispatcher configuration, returning the first error found.
func (d Dispatcher) Validate() error {
	if errs := d.ValidateWithFields(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ValidateWithFields validates the Dispatcher configuration, returning every
// error found.
func (d Dispatcher) ValidateWithFields() []error {
	var errs []error
	if d.WarnTime < 0 {
		errs = append(errs, ErrInvalidDispatcherWarnTime)
	}
	if d.QueueAgeSmoothing <= 0 || d.QueueAgeSmoothing > 1 {
		errs = append(errs, ErrInvalidDispatcherSmoothing)
	}
	return errs
}

// Validate validates the IAX configuration, returning the first error found.
func (i IAX) Validate() error {
	if errs := i.ValidateWithFields(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ValidateWithFields validates the IAX configuration, returning every error found.
func (i IAX) ValidateWithFields() []error {
	var errs []error
	if i.Bind == "" {
		errs = append(errs, ErrInvalidIAXBind)
	}
	if i.Port <= 0 || i.Port > 65535 {
		errs = append(errs, ErrInvalidIAXPort)
	}
	if i.RetransCount <= 0 {
		errs = append(errs, ErrInvalidIAXRetransCount)
	}
	if i.RetransInterval <= 0 {
		errs = append(errs, ErrInvalidIAXRetransInterval)
	}
	if i.PingInterval <= 0 {
		errs = append(errs, ErrInvalidIAXPingInterval)
	}
	if i.TransactionTimeout <= 0 {
		errs = append(errs, ErrInvalidIAXTransactionTimeout)
	}
	if i.MaxInFrames <= 0 {
		errs = append(errs, ErrInvalidIAXMaxInFrames)
	}
	return errs
}

// Validate validates the Redis configuration, returning the first error found.
func (r Redis) Validate() error {
	if errs := r.ValidateWithFields(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ValidateWithFields validates the Redis configuration, returning every error found.
func (r Redis) ValidateWithFields() []error {
	if !r.Enabled {
		return nil
	}
	var errs []error
	if r.Host == "" {
		errs = append(errs, ErrInvalidRedisHost)
	}
	if r.Port <= 0 || r.Port > 65535 {
		errs = append(errs, ErrInvalidRedisPort)
	}
	return errs
}

// Validate validates the Metrics configuration, returning the first error found.
func (m Metrics) Validate() error {
	if errs := m.ValidateWithFields(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ValidateWithFields validates the Metrics configuration, returning every error found.
func (m Metrics) ValidateWithFields() []error {
	if !m.Enabled {
		return nil
	}
	var errs []error
	if m.Bind == "" {
		errs = append(errs, ErrInvalidMetricsBindAddress)
	}
	if m.Port <= 0 || m.Port > 65535 {
		errs = append(errs, ErrInvalidMetricsPort)
	}
	return errs
}

// Validate validates the PProf configuration, returning the first error found.
func (p PProf) Validate() error {
	if errs := p.ValidateWithFields(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ValidateWithFields validates the PProf configuration, returning every error found.
func (p PProf) ValidateWithFields() []error {
	if !p.Enabled {
		return nil
	}
	var errs []error
	if p.Bind == "" {
		errs = append(errs, ErrInvalidPProfBindAddress)
	}
	if p.Port <= 0 || p.Port > 65535 {
		errs = append(errs, ErrInvalidPProfPort)
	}
	return errs
}

// Validate validates the full Config, returning the first error found.
func (c Config) Validate() error {
	if errs := c.ValidateWithFields(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// ValidateWithFields validates the full Config, returning every error found
// across every subsection.
func (c Config) ValidateWithFields() []error {
	var errs []error

	if c.LogLevel != LogLevelDebug &&
		c.LogLevel != LogLevelInfo &&
		c.LogLevel != LogLevelWarn &&
		c.LogLevel != LogLevelError {
		errs = append(errs, ErrInvalidLogLevel)
	}

	errs = append(errs, c.Dispatcher.ValidateWithFields()...)
	errs = append(errs, c.IAX.ValidateWithFields()...)
	errs = append(errs, c.Metrics.ValidateWithFields()...)
	errs = append(errs, c.PProf.ValidateWithFields()...)
	errs = append(errs, c.Redis.ValidateWithFields()...)

	return errs
}
