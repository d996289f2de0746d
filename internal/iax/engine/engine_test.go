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

package engine_test

import (
	"context"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/telcore-oss/iaxhub/internal/config"
	"github.com/telcore-oss/iaxhub/internal/iax/engine"
	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
	"github.com/telcore-oss/iaxhub/internal/iax/ie"
	"github.com/telcore-oss/iaxhub/internal/iax/transaction"
	"github.com/telcore-oss/iaxhub/internal/message"
	"github.com/telcore-oss/iaxhub/internal/testutils/retry"
)

// loopback wires two engines to each other's sockets over real UDP on
// 127.0.0.1, so the transaction state machine is exercised through an
// actual (if local) unreliable datagram transport rather than a mock.
type loopback struct {
	a, b     *engine.Engine
	aAddr    net.Addr
	bAddr    net.Addr
}

func newLoopback(t *testing.T) *loopback {
	t.Helper()
	cfg := &config.Config{
		IAX: config.IAX{
			Bind:               "127.0.0.1",
			Port:               0,
			RetransCount:       5,
			RetransInterval:    50 * time.Millisecond,
			TransactionTimeout: time.Minute,
			DefaultFormat:      iaxconst.CodecULAW,
			DefaultCapability:  iaxconst.CodecULAW | iaxconst.CodecALAW,
		},
	}
	a := engine.New(cfg)
	b := engine.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := a.Start(ctx); err != nil {
		t.Fatalf("start engine a: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start engine b: %v", err)
	}
	t.Cleanup(func() {
		_ = a.Stop()
		_ = b.Stop()
	})

	return &loopback{a: a, b: b, aAddr: a.LocalAddr(), bAddr: b.LocalAddr()}
}

func TestEngine_PokeRoundTrip(t *testing.T) {
	t.Parallel()
	lb := newLoopback(t)

	tx := lb.a.Call(lb.bAddr, transaction.TypePoke, ie.NewList())
	if tx == nil {
		t.Fatal("Call returned nil transaction")
	}

	retry.Retry(t, 50, 10*time.Millisecond, func(r *retry.R) {
		if tx.State() != transaction.StateTerminated {
			r.Fail()
		}
	})
}

// TestEngine_NewWithMD5Auth exercises scenario S2 end to end over real
// loopback sockets: engine a's handler answers b's AuthReq with
// SendAuthReply, and engine b's handlers challenge a's New with SendAuth
// and accept once the reply verifies. It waits for a's transaction to reach
// Connected and asserts the exact handler sequence on each side: New then
// AuthRep on b, AuthReq then Accept on a.
func TestEngine_NewWithMD5Auth(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		IAX: config.IAX{
			Bind:               "127.0.0.1",
			Port:               0,
			RetransCount:       5,
			RetransInterval:    50 * time.Millisecond,
			TransactionTimeout: time.Minute,
			DefaultFormat:      iaxconst.CodecULAW,
			DefaultCapability:  iaxconst.CodecULAW | iaxconst.CodecALAW,
		},
	}

	var aEvents, bEvents []string
	var mu sync.Mutex
	record := func(events *[]string, name string) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, name)
	}

	dispA := message.NewDispatcher()
	dispA.Install(message.NewHandler("iax.authreq", 100, func(msg *message.Message) bool {
		record(&aEvents, "authreq")
		ed := msg.UserData.(engine.EventData)
		if err := ed.Tx.SendAuthReply("secret"); err != nil {
			t.Errorf("SendAuthReply: %v", err)
		}
		return true
	}))
	dispA.Install(message.NewHandler("iax.accept", 100, func(msg *message.Message) bool {
		record(&aEvents, "accept")
		return true
	}))

	dispB := message.NewDispatcher()
	dispB.Install(message.NewHandler("iax.new", 100, func(msg *message.Message) bool {
		record(&bEvents, "new")
		ed := msg.UserData.(engine.EventData)
		ed.Tx.SetAuth("alice", "secret")
		if err := ed.Tx.SendAuth(iaxconst.AuthMD5); err != nil {
			t.Errorf("SendAuth: %v", err)
		}
		return true
	}))
	dispB.Install(message.NewHandler("iax.authrep", 100, func(msg *message.Message) bool {
		record(&bEvents, "authrep")
		ed := msg.UserData.(engine.EventData)
		if err := ed.Tx.SendAccept(); err != nil {
			t.Errorf("SendAccept: %v", err)
		}
		return true
	}))

	a := engine.New(cfg, engine.WithDispatcher(dispA))
	b := engine.New(cfg, engine.WithDispatcher(dispB))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start engine a: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start engine b: %v", err)
	}
	t.Cleanup(func() {
		_ = a.Stop()
		_ = b.Stop()
	})

	ies := ie.NewList()
	ies.AddString(iaxconst.IEUsername, "alice")
	tx := a.Call(b.LocalAddr(), transaction.TypeNew, ies)
	if tx == nil {
		t.Fatal("Call returned nil transaction")
	}
	tx.SetAuth("alice", "secret")

	retry.Retry(t, 50, 10*time.Millisecond, func(r *retry.R) {
		if tx.State() != transaction.StateConnected {
			r.Fail()
		}
	})

	mu.Lock()
	defer mu.Unlock()
	wantA := []string{"authreq", "accept"}
	wantB := []string{"new", "authrep"}
	if !reflect.DeepEqual(aEvents, wantA) {
		t.Fatalf("engine a event sequence = %v, want %v", aEvents, wantA)
	}
	if !reflect.DeepEqual(bEvents, wantB) {
		t.Fatalf("engine b event sequence = %v, want %v", bEvents, wantB)
	}
}

func TestEngine_RetransmissionThenTimeout(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		IAX: config.IAX{
			Bind:               "127.0.0.1",
			Port:               0,
			RetransCount:       3,
			RetransInterval:    10 * time.Millisecond,
			TransactionTimeout: time.Minute,
		},
	}
	e := engine.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	defer func() { _ = e.Stop() }()

	// Silent peer: nothing listens at this address, so no Ack or Pong ever
	// arrives and the transaction must exhaust its retransmission budget.
	silent, err := net.ResolveUDPAddr("udp", "127.0.0.1:1")
	if err != nil {
		t.Fatalf("resolve silent addr: %v", err)
	}
	tx := e.Call(silent, transaction.TypePoke, ie.NewList())
	if tx == nil {
		t.Fatal("Call returned nil transaction")
	}

	retry.Retry(t, 100, 10*time.Millisecond, func(r *retry.R) {
		if tx.State() != transaction.StateTerminated {
			r.Fail()
		}
	})
}
