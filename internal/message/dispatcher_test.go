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
	"context"
	"strings"
	"testing"
	"time"

	"github.com/telcore-oss/iaxhub/internal/message"
)

func TestDispatchFirstAcceptStopsNonBroadcast(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	var ran []string
	h1 := message.NewHandler("", 100, func(msg *message.Message) bool {
		ran = append(ran, "h1")
		return true
	})
	h2 := message.NewHandler("", 200, func(msg *message.Message) bool {
		ran = append(ran, "h2")
		return true
	})
	disp.Install(h1)
	disp.Install(h2)

	msg := message.New("test")
	if !disp.Dispatch(context.Background(), msg) {
		t.Fatal("expected dispatch to be accepted")
	}
	if len(ran) != 1 || ran[0] != "h1" {
		t.Fatalf("expected only h1 to run, got %v", ran)
	}
}

func TestDispatchBroadcastRunsEveryMatchingHandler(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	var ran []string
	for _, label := range []string{"a", "b", "c"} {
		label := label
		disp.Install(message.NewHandler("", 100, func(msg *message.Message) bool {
			ran = append(ran, label)
			return true
		}))
	}

	msg := message.New("test")
	msg.Broadcast = true
	disp.Dispatch(context.Background(), msg)

	if len(ran) != 3 {
		t.Fatalf("expected all 3 handlers to run, got %v", ran)
	}
}

func TestDispatchFilterExcludesNonMatching(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	var ran bool
	h := message.NewHandler("", 100, func(msg *message.Message) bool {
		ran = true
		return true
	})
	h.Filter = message.ParamEquals{Param: "kind", Value: "foo"}
	disp.Install(h)

	msg := message.New("test")
	msg.SetParam("kind", "bar")
	if disp.Dispatch(context.Background(), msg) {
		t.Fatal("expected no handler to match")
	}
	if ran {
		t.Fatal("filtered handler must not run")
	}
}

// TestDispatchRoutesByHandlerName exercises a handler with a non-empty
// Name and no Filter: it must only run for messages carrying that exact
// name, never act as a broadcast handler for every message.
func TestDispatchRoutesByHandlerName(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	var ran bool
	disp.Install(message.NewHandler("call.execute", 100, func(msg *message.Message) bool {
		ran = true
		return true
	}))

	if disp.Dispatch(context.Background(), message.New("chan.startup")) {
		t.Fatal("expected no handler to match a differently named message")
	}
	if ran {
		t.Fatal("named handler must not run for a message with a different name")
	}

	ran = false
	if !disp.Dispatch(context.Background(), message.New("call.execute")) {
		t.Fatal("expected the named handler to match its own message name")
	}
	if !ran {
		t.Fatal("named handler should have run for its matching message name")
	}
}

// TestDispatchResumesAfterMutationDuringHandler exercises the
// install/uninstall-from-within-a-handler path: H1 installs H4 at a
// priority between H1 and H3, and uninstalls H2, while H1 itself is still
// executing. The in-flight Dispatch must resume at H4, not re-run H1 or
// skip past H4, and must never invoke the now-uninstalled H2.
func TestDispatchResumesAfterMutationDuringHandler(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	var ran []string
	var h4 *message.Handler

	h2 := message.NewHandler("", 200, func(msg *message.Message) bool {
		ran = append(ran, "h2")
		return false
	})
	h3 := message.NewHandler("", 300, func(msg *message.Message) bool {
		ran = append(ran, "h3")
		return false
	})
	h1 := message.NewHandler("", 100, func(msg *message.Message) bool {
		ran = append(ran, "h1")
		h4 = message.NewHandler("", 150, func(msg *message.Message) bool {
			ran = append(ran, "h4")
			return false
		})
		disp.Install(h4)
		disp.Uninstall(h2)
		return false
	})

	disp.Install(h1)
	disp.Install(h2)
	disp.Install(h3)

	msg := message.New("test")
	msg.Broadcast = true
	disp.Dispatch(context.Background(), msg)

	want := []string{"h1", "h4", "h3"}
	if len(ran) != len(want) {
		t.Fatalf("expected %v, got %v", want, ran)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ran)
		}
	}
}

func TestUninstallBlocksUntilHandlerIdle(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	release := make(chan struct{})
	entered := make(chan struct{})
	h := message.NewHandler("", 100, func(msg *message.Message) bool {
		close(entered)
		<-release
		return true
	})
	disp.Install(h)

	go func() {
		disp.Dispatch(context.Background(), message.New("test"))
	}()

	<-entered
	done := make(chan struct{})
	go func() {
		disp.Uninstall(h)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Uninstall returned before the in-flight handler finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Uninstall never returned after the handler finished")
	}
}

func TestDispatchTracksHandlerTiming(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	h1 := message.NewHandler("", 100, func(msg *message.Message) bool { return false })
	h1.TrackName = "first"
	h2 := message.NewHandler("", 200, func(msg *message.Message) bool { return true })
	h2.TrackName = "second"
	disp.Install(h1)
	disp.Install(h2)

	msg := message.New("test")
	disp.Dispatch(context.Background(), msg)

	track := msg.Param("handlers")
	if !strings.Contains(track, "first#") || !strings.Contains(track, "second#") {
		t.Fatalf("expected both handlers timed in track param, got %q", track)
	}
	if !strings.Contains(track, ",") {
		t.Fatalf("expected comma-separated track entries, got %q", track)
	}
}

func TestPostHookRunsRegardlessOfAcceptance(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	var gotAccepted bool
	var seen bool
	disp.InstallPostHook(&message.PostHook{
		Name: "observer",
		Handle: func(msg *message.Message, accepted bool) {
			seen = true
			gotAccepted = accepted
		},
	})

	disp.Dispatch(context.Background(), message.New("test"))
	if !seen {
		t.Fatal("post hook never ran")
	}
	if gotAccepted {
		t.Fatal("expected accepted=false with no handlers installed")
	}
}

func TestPostHookUninstallStopsFutureDelivery(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	var count int
	hook := &message.PostHook{Name: "counter", Handle: func(msg *message.Message, accepted bool) {
		count++
	}}
	disp.InstallPostHook(hook)
	disp.Dispatch(context.Background(), message.New("test"))
	disp.UninstallPostHook(hook)
	disp.Dispatch(context.Background(), message.New("test"))

	if count != 1 {
		t.Fatalf("expected exactly 1 post-hook invocation, got %d", count)
	}
}

func TestEnqueueRejectsDuplicateIdentity(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()
	msg := message.New("test")

	if !disp.Enqueue(msg) {
		t.Fatal("first enqueue should succeed")
	}
	if disp.Enqueue(msg) {
		t.Fatal("re-enqueueing the same message identity should be rejected")
	}
}

func TestDequeueIsFIFO(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		disp.Install(message.NewHandler(name, 100, func(msg *message.Message) bool {
			order = append(order, name)
			return false
		}))
	}

	disp.Enqueue(message.New("first"))
	disp.Enqueue(message.New("second"))
	disp.Enqueue(message.New("third"))

	n := disp.Dequeue(context.Background())
	if n != 3 {
		t.Fatalf("expected 3 messages drained, got %d", n)
	}
	want := []string{"first", "second", "third"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected FIFO order %v, got %v", want, order)
		}
	}
}

func TestDequeueOneReportsEmptyQueue(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()
	if disp.DequeueOne(context.Background()) {
		t.Fatal("expected false on an empty queue")
	}
}

func TestStatsAndIntrospection(t *testing.T) {
	t.Parallel()
	disp := message.NewDispatcher()

	h1 := message.NewHandler("call.execute", 50, func(msg *message.Message) bool { return true })
	h1.TrackName = "exec"
	h2 := message.NewHandler("", 100, func(msg *message.Message) bool { return false })
	disp.Install(h1)
	disp.Install(h2)

	hook := &message.PostHook{Name: "observer", Handle: func(*message.Message, bool) {}}
	disp.InstallPostHook(hook)

	disp.Dispatch(context.Background(), message.New("call.execute"))
	disp.Enqueue(message.New("call.execute"))
	disp.Dequeue(context.Background())

	if got := disp.HandlerCount(); got != 2 {
		t.Fatalf("HandlerCount = %d, want 2", got)
	}
	if got := disp.PostHookCount(); got != 1 {
		t.Fatalf("PostHookCount = %d, want 1", got)
	}

	enqueued, dequeued, dispatched, queueMax := disp.Stats()
	if enqueued != 1 || dequeued != 1 {
		t.Fatalf("Stats enqueued/dequeued = %d/%d, want 1/1", enqueued, dequeued)
	}
	if dispatched != 2 {
		t.Fatalf("Stats dispatched = %d, want 2 (one direct Dispatch, one via Dequeue)", dispatched)
	}
	if queueMax < 1 {
		t.Fatalf("Stats queueMax = %d, want at least 1", queueMax)
	}

	all := disp.Handlers("")
	if len(all) != 2 {
		t.Fatalf("Handlers(\"\") returned %d entries, want 2", len(all))
	}
	named := disp.Handlers("call.execute")
	if len(named) != 1 || named[0].Name != "call.execute" || named[0].TrackName != "exec" {
		t.Fatalf("Handlers(%q) = %+v, want the single exec-tracked handler", "call.execute", named)
	}
}
