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

package message_test

import (
	"sync"
	"testing"
	"time"

	"github.com/telcore-oss/iaxhub/internal/message"
	"github.com/telcore-oss/iaxhub/internal/testutils/retry"
)

func TestMessageQueueMatchesSubjectAndFilter(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	filter := message.NewParams()
	filter.Add("driver", "iax")
	q := message.NewMessageQueue(disp, "call.execute", filter, 1)
	t.Cleanup(q.Clear)

	match := message.New("call.execute")
	match.SetParam("driver", "iax")
	match.SetParam("caller", "1001")
	if !q.Matches(match) {
		t.Fatal("expected a message with the subject name and all filter params to match")
	}

	wrongName := message.New("call.hangup")
	wrongName.SetParam("driver", "iax")
	if q.Matches(wrongName) {
		t.Fatal("a message with a different name must not match")
	}

	wrongValue := message.New("call.execute")
	wrongValue.SetParam("driver", "sip")
	if q.Matches(wrongValue) {
		t.Fatal("a message with a mismatched filter value must not match")
	}

	missingParam := message.New("call.execute")
	if q.Matches(missingParam) {
		t.Fatal("a message missing a filter param must not match")
	}
}

func TestMessageQueueWorkersDispatchInOrder(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	var mu sync.Mutex
	var order []string
	disp.Install(message.NewHandler("call.execute", 100, func(msg *message.Message) bool {
		mu.Lock()
		order = append(order, msg.Param("seq"))
		mu.Unlock()
		return true
	}))

	// A single worker drains strictly in enqueue order.
	q := message.NewMessageQueue(disp, "call.execute", nil, 1)
	t.Cleanup(q.Clear)

	for _, seq := range []string{"1", "2", "3"} {
		m := message.New("call.execute")
		m.SetParam("seq", seq)
		if !q.Enqueue(m) {
			t.Fatalf("enqueue of seq %s rejected", seq)
		}
	}

	retry.Retry(t, 50, 10*time.Millisecond, func(r *retry.R) {
		mu.Lock()
		defer mu.Unlock()
		if len(order) != 3 {
			r.Fail()
		}
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"1", "2", "3"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestMessageQueueMultipleWorkersRunConcurrently(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	disp.Install(message.NewHandler("call.execute", 100, func(msg *message.Message) bool {
		started <- struct{}{}
		<-release
		return true
	}))

	q := message.NewMessageQueue(disp, "call.execute", nil, 2)

	q.Enqueue(message.New("call.execute"))
	q.Enqueue(message.New("call.execute"))

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("expected both workers to pick up a message without waiting on each other")
		}
	}
	close(release)
	q.Clear()
}

func TestMessageQueueClearStopsWorkersAndDrains(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()
	q := message.NewMessageQueue(disp, "call.execute", nil, 2)

	q.Clear()

	if q.Enqueue(message.New("call.execute")) {
		t.Fatal("expected enqueues after Clear to be rejected")
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("expected an empty queue after Clear, got len %d", got)
	}
}
