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

// Package message implements an in-process, named, parameterized message bus:
// a priority-ordered, mutation-tolerant handler list for synchronous
// dispatch, a FIFO async queue, per-subject worker-pooled queues, and a
// post-hook fan-out for observability sinks.
package message

import (
	"sync"
	"time"
)

// Message is a single named event carrying an ordered parameter list. A
// Message is dispatched at most once at a time by a given Dispatcher, but
// the same Message value may be redispatched later (e.g. requeued by a
// handler), so its bookkeeping fields tolerate being touched from more than
// one Dispatch call over its lifetime, just never concurrently with itself.
type Message struct {
	Name string

	Params *Params

	// Broadcast, if true, means every matching handler runs regardless of
	// whether an earlier one accepted the message. If false, the first
	// handler to accept wins and dispatch stops.
	Broadcast bool

	// UserData carries caller-defined context through to handlers and post
	// hooks without needing a parameter-list round trip.
	UserData any

	retValue string
	retOK    bool

	timeCreated  time.Time
	timeEnqueued time.Time
	timeStarted  time.Time
	timeFinished time.Time

	trackMu sync.Mutex
}

// New returns a Message with name and an empty parameter list.
func New(name string) *Message {
	return &Message{
		Name:        name,
		Params:      NewParams(),
		timeCreated: time.Now(),
	}
}

// NewWithParams returns a Message with name and params. The Message takes
// ownership of params; callers should not mutate it concurrently afterward.
func NewWithParams(name string, params *Params) *Message {
	if params == nil {
		params = NewParams()
	}
	return &Message{Name: name, Params: params, timeCreated: time.Now()}
}

// SetParam sets a parameter, overwriting the first existing occurrence.
func (m *Message) SetParam(name, value string) *Message {
	m.Params.Set(name, value)
	return m
}

// Param returns the first value of name, or "" if unset.
func (m *Message) Param(name string) string {
	return m.Params.GetValue(name)
}

// SetReturn records the handler-facing return value of the message. The
// last handler to accept the message (or any handler, for broadcast
// messages) may call this to hand data back to the enqueuer.
func (m *Message) SetReturn(v string) {
	m.retValue = v
	m.retOK = true
}

// Return reports the value set by SetReturn and whether it was ever set.
func (m *Message) Return() (string, bool) {
	return m.retValue, m.retOK
}

// CreatedAt reports when the Message was constructed.
func (m *Message) CreatedAt() time.Time {
	return m.timeCreated
}

// EnqueuedAt reports when the Message was last placed on a Dispatcher's
// async queue, or the zero Time if it was only ever dispatched
// synchronously.
func (m *Message) EnqueuedAt() time.Time {
	return m.timeEnqueued
}
