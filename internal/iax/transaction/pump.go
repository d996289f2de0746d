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
	"github.com/telcore-oss/iaxhub/internal/iax/frame"
	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
	"github.com/telcore-oss/iaxhub/internal/iax/ie"
)

// GetEvent drives the transaction's state machine forward by one step and
// returns the next event worth surfacing to the engine, or nil if there is
// nothing to report right now. It performs, in order: the Terminated
// short-circuit, the Terminating deadline check, the periodic ping check,
// outbound retransmission/timeout accounting, and finally dispatch of the
// oldest queued inbound frame against the current state. Callers are
// expected to call GetEvent repeatedly (typically from a single pump
// goroutine per transaction) until it returns nil.
func (t *Transaction) GetEvent() *Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateTerminated {
		return nil
	}

	if t.state == StateTerminating {
		if t.timeoutAt.IsZero() {
			t.timeoutAt = now().Add(t.engine.TransactionTimeout())
		}
		if t.terminatingDoneLocked() {
			t.state = StateTerminated
			return &Event{Type: EventTerminated}
		}
		if now().After(t.timeoutAt) {
			t.state = StateTerminated
			return &Event{Type: EventTimeout}
		}
	}

	if t.state == StateConnected &&
		now().Sub(t.lastPingAt) >= t.pingEvery && now().Sub(t.lastActivity) >= t.pingEvery {
		t.sendPingLocked()
	}

	if ev := t.pumpOutboundLocked(); ev != nil {
		return ev
	}

	return t.pumpInboundLocked()
}

// terminatingDoneLocked reports whether every outbound frame queued while
// tearing down (the Reject or Hangup that moved the transaction into
// Terminating) has been acknowledged or has exhausted its retries.
func (t *Transaction) terminatingDoneLocked() bool {
	for _, out := range t.outFrames {
		if !out.Acked && !out.ExhaustedRetries(t.engine.RetransCount()) {
			return false
		}
	}
	return true
}

// pumpOutboundLocked resends any outbound frame whose retransmission
// interval has elapsed, surfacing a Timeout event and moving the
// transaction to Terminating the first time a frame exhausts its retry
// budget.
func (t *Transaction) pumpOutboundLocked() *Event {
	interval := t.engine.RetransInterval()
	maxRetries := t.engine.RetransCount()
	n := now()

	for _, out := range t.outFrames {
		if out.Acked {
			continue
		}
		if out.ExhaustedRetries(maxRetries) {
			if t.state == StateTerminating {
				// Already tearing down; the timeout was surfaced when the
				// first frame exhausted its budget.
				continue
			}
			t.state = StateTerminating
			return &Event{Type: EventTimeout}
		}
		if out.Due(n, interval) {
			if out.TimesSent > 0 {
				out.Frame.Retransmit = true
			}
			t.sendNow(out)
		}
	}
	return nil
}

// pumpInboundLocked dequeues queued inbound frames in arrival order until
// one produces the Event its state machine table calls for, or the queue
// runs dry. Frames that resolve internally (a Poke answered with a Pong, a
// Ping answered with a Pong, the session-start frame the engine already
// surfaced at admission) consume no event slot.
func (t *Transaction) pumpInboundLocked() *Event {
	for len(t.inFrames) > 0 {
		f := t.inFrames[0].frame
		t.inFrames = t.inFrames[1:]

		if t.state == StateUnknown {
			if f.Type == iaxconst.FrameIAX && f.Subclass == iaxconst.IAXPoke {
				// One-shot liveness probe: answer and tear down without
				// surfacing anything to the upper layer.
				t.sendSubclassLocked(iaxconst.IAXPong, nil, true)
				t.localTerm = true
				t.state = StateTerminating
				continue
			}
			t.state = StateNewRemoteInvite
			return &Event{Type: EventNew}
		}

		var ev *Event
		switch f.Type {
		case iaxconst.FrameIAX:
			ev = t.dispatchIAXLocked(f)
		case iaxconst.FrameControl:
			ev = t.dispatchControlLocked(f)
		case iaxconst.FrameVoice:
			ev = &Event{Type: EventVoice}
		case iaxconst.FrameDTMF:
			digit := byte(0)
			if len(f.Payload) > 0 {
				digit = f.Payload[0]
			}
			ev = &Event{Type: EventDtmf, Digit: digit}
		case iaxconst.FrameText:
			ev = &Event{Type: EventText, Payload: f.Payload}
		case iaxconst.FrameNoise:
			ev = &Event{Type: EventNoise, Payload: f.Payload}
		default:
			ev = &Event{Type: EventNotImplemented}
		}
		if ev != nil {
			return ev
		}
	}
	return nil
}

func (t *Transaction) dispatchIAXLocked(f *frame.IAXFullFrame) *Event {
	switch f.Subclass {
	case iaxconst.IAXNew, iaxconst.IAXRegReq, iaxconst.IAXRegRel:
		// Session-start frame of a remote-initiated transaction; the
		// engine surfaced it at admission, so there is nothing left to
		// dispatch here.
		return nil

	case iaxconst.IAXAuthReq, iaxconst.IAXRegAuth:
		if t.state != StateNewLocalInvite {
			return &Event{Type: EventInvalid}
		}
		ies, err := decodeIEs(f.Payload)
		if err != nil {
			return &Event{Type: EventInvalid}
		}
		challenge, _ := ies.GetString(iaxconst.IEChallenge)
		methods, _ := ies.GetUint16(iaxconst.IEAuthMethods)
		t.challenge = challenge
		t.authMethod = iaxconst.AuthMethod(methods)
		t.state = StateNewLocalInviteAuthRecv
		return &Event{Type: EventAuthReq, Challenge: challenge, AuthMethods: t.authMethod}

	case iaxconst.IAXAuthRep:
		if t.state != StateNewRemoteInviteAuthSent {
			return &Event{Type: EventInvalid}
		}
		ies, err := decodeIEs(f.Payload)
		if err != nil || !t.verifyAuthReply(ies) {
			t.sendRejectLocked(iaxconst.CauseInvalidAuth, "Invalid authentication")
			t.state = StateTerminating
			return &Event{Type: EventReject, Cause: iaxconst.CauseInvalidAuth}
		}
		t.state = StateNewRemoteInviteRepRecv
		return &Event{Type: EventAuthRep}

	case iaxconst.IAXAccept:
		ies, err := decodeIEs(f.Payload)
		if err == nil {
			if fmtVal, ok := ies.GetUint32(iaxconst.IEFormat); ok {
				t.format = iaxconst.Codec(fmtVal)
			}
		}
		t.state = StateConnected
		return &Event{Type: EventAccept, Format: t.format}

	case iaxconst.IAXReject, iaxconst.IAXRegRej:
		cause, text := decodeCause(f.Payload)
		t.state = StateTerminating
		return &Event{Type: EventReject, Cause: cause, CauseText: text}

	case iaxconst.IAXHangup:
		cause, text := decodeCause(f.Payload)
		t.state = StateTerminating
		return &Event{Type: EventHangup, Cause: cause, CauseText: text}

	case iaxconst.IAXRegAck:
		var refresh uint16
		var callingName, callingNumber string
		if ies, err := decodeIEs(f.Payload); err == nil {
			refresh, _ = ies.GetUint16(iaxconst.IERefresh)
			callingName, _ = ies.GetString(iaxconst.IECallingName)
			callingNumber, _ = ies.GetString(iaxconst.IECallingNumber)
		}
		t.state = StateConnected
		return &Event{
			Type:          EventAccept,
			Refresh:       refresh,
			CallingName:   callingName,
			CallingNumber: callingNumber,
		}

	case iaxconst.IAXLagRq:
		t.sendSubclassLocked(iaxconst.IAXLagRp, nil, true)
		return nil

	case iaxconst.IAXLagRp:
		return nil

	case iaxconst.IAXPing:
		// A Ping is answered with a Pong and never surfaced as an event.
		t.sendSubclassLocked(iaxconst.IAXPong, nil, true)
		return nil

	case iaxconst.IAXPong:
		if t.typ == TypePoke {
			// The round trip a local Poke was waiting for.
			t.localTerm = true
			t.state = StateTerminating
		}
		return nil

	case iaxconst.IAXQuelch:
		return &Event{Type: EventQuelch}

	case iaxconst.IAXUnquelch:
		return &Event{Type: EventUnquelch}

	case iaxconst.IAXUnsupport:
		return &Event{Type: EventNotImplemented}

	default:
		return &Event{Type: EventNotImplemented}
	}
}

func (t *Transaction) dispatchControlLocked(f *frame.IAXFullFrame) *Event {
	switch f.Subclass {
	case iaxconst.ControlHangup:
		t.state = StateTerminating
		return &Event{Type: EventHangup}
	case iaxconst.ControlRinging:
		return &Event{Type: EventRinging}
	case iaxconst.ControlAnswer:
		return &Event{Type: EventAnswer}
	case iaxconst.ControlBusy:
		t.state = StateTerminating
		return &Event{Type: EventBusy}
	case iaxconst.ControlProgressing:
		return &Event{Type: EventProgressing}
	default:
		return &Event{Type: EventNotImplemented}
	}
}

// decodeIEs decodes a control frame's payload as an information-element
// list, treating an empty payload as an empty (not erroneous) list.
func decodeIEs(payload []byte) (*ie.List, error) {
	if len(payload) == 0 {
		return ie.NewList(), nil
	}
	return ie.Decode(payload)
}

// decodeCause extracts the numeric cause code and optional cause text
// from a Reject/Hangup/RegRej payload. A payload with no IECauseCode
// element reports CauseNormalClearing, matching a peer that tears down
// without explaining why.
func decodeCause(payload []byte) (iaxconst.Cause, string) {
	ies, err := decodeIEs(payload)
	if err != nil {
		return iaxconst.CauseNormalClearing, ""
	}
	cause := iaxconst.CauseNormalClearing
	if b, ok := ies.GetByte(iaxconst.IECauseCode); ok {
		cause = iaxconst.Cause(b)
	}
	text, _ := ies.GetString(iaxconst.IECause)
	return cause, text
}
