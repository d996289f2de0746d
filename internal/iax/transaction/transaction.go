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

package transaction

import (
	"net"
	"sync"
	"time"

	"github.com/telcore-oss/iaxhub/internal/iax/frame"
	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
	"github.com/telcore-oss/iaxhub/internal/iax/ie"
)

// Transaction is one IAX2 call or registration. It is safe for concurrent
// use: a single mutex guards state, sequence counters, and the inbound
// and outbound frame queues, while a separate mutex guards inbound media
// decode so that voice processing never serializes behind control-frame
// handling.
type Transaction struct {
	mu sync.Mutex

	engine     Engine
	remoteAddr net.Addr

	localCallNo  uint16
	remoteCallNo uint16

	typ   Type
	state State

	oSeqNo uint8
	iSeqNo uint8

	createdAt time.Time

	maxInFrames int
	inFrames    []inboundEntry
	outFrames   []*frame.IAXFrameOut

	username   string
	password   string
	challenge  string
	authdata   string
	authMethod iaxconst.AuthMethod

	format     iaxconst.Codec
	capability iaxconst.Codec

	remoteFormat     iaxconst.Codec
	remoteCapability iaxconst.Codec

	mediaMu          sync.Mutex
	lastMiniFrameOut uint16
	lastMiniFrameIn  uint16
	miniFrameInHigh  uint32
	haveInboundMedia bool

	pingEvery    time.Duration
	lastPingAt   time.Time
	lastActivity time.Time
	timeoutAt    time.Time
	remoteInit   bool

	// localTerm marks a teardown this end initiated (Reject, Hangup, the
	// Pong answering a Poke): the transaction still accepts Acks for its
	// pending teardown frames while Terminating. A remote-initiated
	// teardown drops everything.
	localTerm bool

	inDroppedFrames uint64
	inOutOfOrder    uint64
	inTotal         uint64
}

// nowFunc is the transaction package's clock. Tests that exercise
// retransmission and timeout accounting substitute it for a deterministic
// source; production code never overrides it.
var nowFunc = time.Now

func now() time.Time { return nowFunc() }

// newTransaction builds the common skeleton shared by inbound and
// outbound construction. createdAt is backdated by one millisecond so the
// elapsed timestamp is non-zero even for a frame sent in the same
// millisecond as construction.
func newTransaction(engine Engine, remoteAddr net.Addr, localCallNo, remoteCallNo uint16, typ Type) *Transaction {
	n := now()
	return &Transaction{
		engine:       engine,
		remoteAddr:   remoteAddr,
		localCallNo:  localCallNo,
		remoteCallNo: remoteCallNo,
		typ:          typ,
		state:        StateUnknown,
		createdAt:    n.Add(-time.Millisecond),
		maxInFrames:  defaultMaxInFrames,
		pingEvery:    defaultPingInterval,
		lastPingAt:   n,
		lastActivity: n,
	}
}

// NewInbound constructs a transaction from a peer's first full frame.
// Only New, RegReq, RegRel and Poke subclasses are accepted; anything
// else (including FwDownl) returns a nil Transaction, matching the
// factory's "reject unsupported types" contract.
func NewInbound(engine Engine, remoteAddr net.Addr, localCallNo uint16, first *frame.IAXFullFrame) *Transaction {
	typ := TypeFromSubclass(first.Subclass)
	if typ == TypeIncorrect || typ == TypeFwDownl {
		return nil
	}

	tx := newTransaction(engine, remoteAddr, localCallNo, first.SrcCallNo, typ)
	tx.remoteInit = true
	tx.state = StateNewRemoteInvite
	if typ == TypePoke {
		// A Poke stays in Unknown: the whole exchange is resolved by the
		// event pump answering with a Pong and tearing down.
		tx.state = StateUnknown
	}

	if typ == TypeNew {
		if ies, err := ie.Decode(first.Payload); err == nil {
			if v, ok := ies.GetUint32(iaxconst.IEFormat); ok {
				tx.remoteFormat = iaxconst.Codec(v)
			}
			if v, ok := ies.GetUint32(iaxconst.IECapability); ok {
				tx.remoteCapability = iaxconst.Codec(v)
			}
		}
	}

	tx.inFrames = append(tx.inFrames, inboundEntry{frame: first})
	tx.iSeqNo = bump(tx.iSeqNo)
	tx.sendAck(first)
	return tx
}

// NewOutbound constructs a transaction initiating a New, RegReq, RegRel or
// Poke request, posting the corresponding full frame and entering
// NewLocalInvite. Unsupported types return a nil Transaction.
func NewOutbound(engine Engine, remoteAddr net.Addr, localCallNo, remoteCallNo uint16, typ Type, ies *ie.List) *Transaction {
	if typ == TypeIncorrect || typ == TypeFwDownl {
		return nil
	}

	tx := newTransaction(engine, remoteAddr, localCallNo, remoteCallNo, typ)
	tx.state = StateNewLocalInvite

	subclass := subclassForType(typ)
	payload, err := ies.Encode()
	if err != nil {
		return nil
	}
	f := &frame.IAXFullFrame{
		SrcCallNo: localCallNo,
		DstCallNo: remoteCallNo,
		Timestamp: tx.elapsedMs(),
		OSeqNo:    tx.oSeqNo,
		ISeqNo:    tx.iSeqNo,
		Type:      iaxconst.FrameIAX,
		Subclass:  subclass,
		Payload:   payload,
	}
	tx.queueOutbound(f, false)
	tx.oSeqNo = bump(tx.oSeqNo)
	return tx
}

func subclassForType(t Type) iaxconst.Subclass {
	switch t {
	case TypeNew:
		return iaxconst.IAXNew
	case TypeRegReq:
		return iaxconst.IAXRegReq
	case TypeRegRel:
		return iaxconst.IAXRegRel
	case TypePoke:
		return iaxconst.IAXPoke
	default:
		return 0
	}
}

// Destroy emits a Reject with cause "Server shutdown" if the transaction
// has not already begun terminating, matching the factory's destructor
// contract.
func (t *Transaction) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateTerminating || t.state == StateTerminated {
		return
	}
	t.sendRejectLocked(iaxconst.CauseServerShutdown, "Server shutdown")
	t.state = StateTerminating
}

// RemoteInitiated reports whether this transaction was created by a
// peer's first frame rather than a local call.
func (t *Transaction) RemoteInitiated() bool {
	return t.remoteInit
}

// State reports the transaction's current state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Type reports the transaction's type.
func (t *Transaction) Type() Type {
	return t.typ
}

// LocalCallNo and RemoteCallNo identify the transaction's (localCallNo,
// remoteCallNo) pair, which the engine uses to route inbound frames.
func (t *Transaction) LocalCallNo() uint16  { return t.localCallNo }
func (t *Transaction) RemoteCallNo() uint16 { return t.remoteCallNo }

// SetAuth records the credentials an outbound caller will use to answer
// an AuthReq, or an inbound acceptor will challenge against.
func (t *Transaction) SetAuth(username, password string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.username = username
	t.password = password
}

// SetFormat records the negotiated media format and capability mask.
func (t *Transaction) SetFormat(format, capability iaxconst.Codec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.format = format
	t.capability = capability
}

// SetMaxInFrames bounds the inbound frame queue. Values below one are
// ignored, keeping the default.
func (t *Transaction) SetMaxInFrames(n int) {
	if n < 1 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxInFrames = n
}

// SetPingInterval overrides how often a Connected call sends a keepalive
// Ping. Non-positive values are ignored, keeping the default.
func (t *Transaction) SetPingInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pingEvery = d
}

// InDroppedFrames, InOutOfOrder and InTotal report lifetime counters for
// observability.
func (t *Transaction) InDroppedFrames() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inDroppedFrames
}

func (t *Transaction) InOutOfOrder() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inOutOfOrder
}

func (t *Transaction) InTotal() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inTotal
}

// bump advances an 8-bit sequence counter with wraparound.
func bump(seq uint8) uint8 { return seq + 1 }

// cmpSeq orders 8-bit modular sequence numbers: zero means equal,
// positive means a is ahead of b, negative means a is behind b.
func cmpSeq(a, b uint8) int8 {
	return int8(a - b)
}

func (t *Transaction) elapsedMs() uint32 {
	return uint32(now().Sub(t.createdAt).Milliseconds())
}

func (t *Transaction) queueOutbound(f *frame.IAXFullFrame, ackOnly bool) {
	out := frame.NewOut(f, ackOnly)
	t.outFrames = append(t.outFrames, out)
	t.sendNow(out)
}

func (t *Transaction) sendNow(out *frame.IAXFrameOut) {
	b, err := out.Frame.Encode()
	if err != nil {
		return
	}
	if t.engine.WriteSocket(b, t.remoteAddr) {
		out.RecordSent(now())
	}
}

func (t *Transaction) sendAck(f *frame.IAXFullFrame) {
	ack := &frame.IAXFullFrame{
		SrcCallNo: t.localCallNo,
		DstCallNo: t.remoteCallNo,
		Timestamp: f.Timestamp,
		OSeqNo:    t.oSeqNo,
		ISeqNo:    t.iSeqNo,
		Type:      iaxconst.FrameIAX,
		Subclass:  iaxconst.IAXAck,
	}
	b, err := ack.Encode()
	if err != nil {
		return
	}
	t.engine.WriteSocket(b, t.remoteAddr)
}

func (t *Transaction) sendVNAK() {
	vnak := &frame.IAXFullFrame{
		SrcCallNo: t.localCallNo,
		DstCallNo: t.remoteCallNo,
		Timestamp: t.elapsedMs(),
		OSeqNo:    t.oSeqNo,
		ISeqNo:    t.iSeqNo,
		Type:      iaxconst.FrameIAX,
		Subclass:  iaxconst.IAXVNAK,
	}
	b, err := vnak.Encode()
	if err != nil {
		return
	}
	t.engine.WriteSocket(b, t.remoteAddr)
}

func (t *Transaction) sendRejectLocked(cause iaxconst.Cause, text string) {
	t.localTerm = true
	ies := ie.NewList()
	ies.AddByte(iaxconst.IECauseCode, byte(cause))
	if text != "" {
		ies.AddString(iaxconst.IECause, text)
	}
	payload, _ := ies.Encode()
	f := &frame.IAXFullFrame{
		SrcCallNo: t.localCallNo,
		DstCallNo: t.remoteCallNo,
		Timestamp: t.elapsedMs(),
		OSeqNo:    t.oSeqNo,
		ISeqNo:    t.iSeqNo,
		Type:      iaxconst.FrameIAX,
		Subclass:  iaxconst.IAXReject,
		Payload:   payload,
	}
	t.queueOutbound(f, true)
	t.oSeqNo = bump(t.oSeqNo)
}

func (t *Transaction) sendSubclassLocked(subclass iaxconst.Subclass, ies *ie.List, ackOnly bool) {
	var payload []byte
	if ies != nil {
		payload, _ = ies.Encode()
	}
	f := &frame.IAXFullFrame{
		SrcCallNo: t.localCallNo,
		DstCallNo: t.remoteCallNo,
		Timestamp: t.elapsedMs(),
		OSeqNo:    t.oSeqNo,
		ISeqNo:    t.iSeqNo,
		Type:      iaxconst.FrameIAX,
		Subclass:  subclass,
		Payload:   payload,
	}
	t.queueOutbound(f, ackOnly)
	t.oSeqNo = bump(t.oSeqNo)
}
