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
	"sync"
)

// MessageQueue is a secondary queue sitting in front of a Dispatcher for
// one message subject: messages whose name equals the queue's subject and
// whose parameters carry every filter value are offloaded to the queue's
// own pool of worker goroutines instead of the dispatcher's shared FIFO,
// so a chatty subject cannot starve the rest of the bus. Workers idle
// when the queue is empty.
type MessageQueue struct {
	disp    *Dispatcher
	subject string
	filter  *Params

	mu       sync.Mutex
	cond     *sync.Cond
	messages []*Message
	stopped  bool

	wg sync.WaitGroup
}

// NewMessageQueue starts a queue for subject with workers dedicated
// goroutines dispatching through disp. filter may be nil; when set, every
// filter parameter must be present in a message (with an equal value) for
// the message to be accepted. Fewer than one worker is clamped to one.
func NewMessageQueue(disp *Dispatcher, subject string, filter *Params, workers int) *MessageQueue {
	if workers < 1 {
		workers = 1
	}
	q := &MessageQueue{
		disp:    disp,
		subject: subject,
		filter:  filter.Clone(),
	}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// Matches reports whether msg belongs on this queue: its name equals the
// queue's subject and every filter parameter is present in the message
// with an equal value.
func (q *MessageQueue) Matches(msg *Message) bool {
	if msg.Name != q.subject {
		return false
	}
	match := true
	q.filter.Range(func(name, value string) bool {
		v, ok := msg.Params.Get(name)
		if !ok || v != value {
			match = false
			return false
		}
		return true
	})
	return match
}

// Enqueue appends msg for a worker to dispatch. It reports false if msg
// does not match the queue's subject/filter or the queue has been cleared.
func (q *MessageQueue) Enqueue(msg *Message) bool {
	if !q.Matches(msg) {
		return false
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.messages = append(q.messages, msg)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

func (q *MessageQueue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.messages) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		msg := q.messages[0]
		q.messages = q.messages[1:]
		q.mu.Unlock()

		q.disp.Dispatch(context.Background(), msg)
	}
}

// Len reports how many messages are waiting for a worker right now.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Clear cancels the workers, drops whatever is still queued, and waits
// for in-flight dispatches to return. The queue accepts nothing afterward.
func (q *MessageQueue) Clear() {
	q.mu.Lock()
	q.stopped = true
	q.messages = nil
	q.mu.Unlock()
	q.cond.Broadcast()
	q.wg.Wait()
}
