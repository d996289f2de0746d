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

// Package transaction implements the per-call IAX2 state machine: New,
// RegReq, RegRel and Poke lifecycles, reliable sequenced delivery over an
// unreliable datagram transport, MD5 authentication, and mini-frame media
// transport.
package transaction

import (
	"net"
	"time"

	"github.com/telcore-oss/iaxhub/internal/iax/frame"
	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
)

// Type identifies the kind of transaction a first frame's subclass
// establishes.
type Type int

const (
	TypeNew Type = iota
	TypeRegReq
	TypeRegRel
	TypePoke
	TypeFwDownl
	TypeIncorrect
)

func (t Type) String() string {
	switch t {
	case TypeNew:
		return "New"
	case TypeRegReq:
		return "RegReq"
	case TypeRegRel:
		return "RegRel"
	case TypePoke:
		return "Poke"
	case TypeFwDownl:
		return "FwDownl"
	default:
		return "Incorrect"
	}
}

// TypeFromSubclass maps a first frame's IAX subclass to a transaction
// Type. FwDownl and anything unrecognized map to a type the factory
// refuses to construct.
func TypeFromSubclass(s iaxconst.Subclass) Type {
	switch s {
	case iaxconst.IAXNew:
		return TypeNew
	case iaxconst.IAXRegReq:
		return TypeRegReq
	case iaxconst.IAXRegRel:
		return TypeRegRel
	case iaxconst.IAXPoke:
		return TypePoke
	case iaxconst.IAXFwDownl:
		return TypeFwDownl
	default:
		return TypeIncorrect
	}
}

// State is a node in the per-transaction handshake state machine.
type State int

const (
	StateUnknown State = iota
	StateNewLocalInvite
	StateNewLocalInviteAuthRecv
	StateNewLocalInviteRepSent
	StateNewRemoteInvite
	StateNewRemoteInviteAuthSent
	StateNewRemoteInviteRepRecv
	StateConnected
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "Unknown"
	case StateNewLocalInvite:
		return "NewLocalInvite"
	case StateNewLocalInviteAuthRecv:
		return "NewLocalInvite_AuthRecv"
	case StateNewLocalInviteRepSent:
		return "NewLocalInvite_RepSent"
	case StateNewRemoteInvite:
		return "NewRemoteInvite"
	case StateNewRemoteInviteAuthSent:
		return "NewRemoteInvite_AuthSent"
	case StateNewRemoteInviteRepRecv:
		return "NewRemoteInvite_RepRecv"
	case StateConnected:
		return "Connected"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// EventType identifies the kind of protocol event getEvent surfaces to
// the upper layer.
type EventType int

const (
	EventNew EventType = iota
	EventAccept
	EventReject
	EventHangup
	EventAuthReq
	EventAuthRep
	EventBusy
	EventAnswer
	EventRinging
	EventProgressing
	EventTimeout
	EventInvalid
	EventNotImplemented
	EventVoice
	EventDtmf
	EventText
	EventNoise
	EventTerminated
	EventQuelch
	EventUnquelch
)

// Event is a single protocol occurrence surfaced by getEvent.
type Event struct {
	Type      EventType
	Cause     iaxconst.Cause
	CauseText string
	Format    iaxconst.Codec
	Payload   []byte
	Digit     byte

	// Populated on EventAuthReq.
	AuthMethods iaxconst.AuthMethod
	Challenge   string

	// Populated on a successful RegAck.
	Refresh         uint16
	CallingName     string
	CallingNumber   string
}

// Engine is the narrow surface a Transaction consumes from its owning
// engine: socket I/O, media decode hand-off, tunables, and the MD5
// helpers the wire format mandates.
type Engine interface {
	WriteSocket(b []byte, addr net.Addr) bool
	ProcessMedia(tx *Transaction, data []byte, timestamp uint32)
	RetransCount() int
	RetransInterval() time.Duration
	TransactionTimeout() time.Duration
	MaxFullFrameDataLen() int
	Format() iaxconst.Codec
	Capability() iaxconst.Codec
	GetMD5FromChallenge(challenge, password string) string
	IsMD5ChallengeCorrect(auth, challenge, password string) bool
}

const defaultMaxInFrames = 100
const defaultPingInterval = 20 * time.Second

// inboundEntry wraps a queued inbound full frame awaiting dispatch by the
// event pump, in arrival order.
type inboundEntry struct {
	frame *frame.IAXFullFrame
}
