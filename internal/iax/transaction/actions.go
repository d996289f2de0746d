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
	"fmt"

	"github.com/telcore-oss/iaxhub/internal/iax/frame"
	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
	"github.com/telcore-oss/iaxhub/internal/iax/ie"
)

// SendAccept negotiates a media format against the capability and format
// the peer advertised in its New request (see negotiateFormatLocked) and
// answers with the result, moving a remote-initiated transaction to
// Connected. If no codec is common to both ends it instead rejects the
// call with CauseNoMediaFormat and moves to Terminating.
func (t *Transaction) SendAccept() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.typ != TypeNew {
		return fmt.Errorf("transaction: SendAccept called on a %s transaction", t.typ)
	}
	if t.state != StateNewRemoteInvite && t.state != StateNewRemoteInviteRepRecv {
		return fmt.Errorf("transaction: SendAccept called in state %s", t.state)
	}
	format, ok := t.negotiateFormatLocked()
	if !ok {
		t.sendRejectLocked(iaxconst.CauseNoMediaFormat, "No media format")
		t.state = StateTerminating
		return fmt.Errorf("transaction: no media format in common with peer")
	}
	t.format = format
	ies := ie.NewList()
	ies.AddUint32(iaxconst.IEFormat, uint32(format))
	t.sendSubclassLocked(iaxconst.IAXAccept, ies, false)
	t.state = StateConnected
	return nil
}

// SendRegAck answers a RegReq or RegRel with the accepted refresh
// interval and the registered identity, the registration analogue of
// SendAccept. Empty identity strings are omitted from the frame.
func (t *Transaction) SendRegAck(refresh uint16, callingName, callingNumber string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.typ != TypeRegReq && t.typ != TypeRegRel {
		return fmt.Errorf("transaction: SendRegAck called on a %s transaction", t.typ)
	}
	if t.state != StateNewRemoteInvite && t.state != StateNewRemoteInviteRepRecv {
		return fmt.Errorf("transaction: SendRegAck called in state %s", t.state)
	}
	ies := ie.NewList()
	ies.AddUint16(iaxconst.IERefresh, refresh)
	if callingName != "" {
		ies.AddString(iaxconst.IECallingName, callingName)
	}
	if callingNumber != "" {
		ies.AddString(iaxconst.IECallingNumber, callingNumber)
	}
	t.sendSubclassLocked(iaxconst.IAXRegAck, ies, false)
	t.state = StateConnected
	return nil
}

// SendReject rejects a pending invite or registration with the given
// cause and moves the transaction to Terminating.
func (t *Transaction) SendReject(cause iaxconst.Cause, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendRejectLocked(cause, text)
	t.state = StateTerminating
}

// SendHangup ends a Connected call cleanly.
func (t *Transaction) SendHangup(cause iaxconst.Cause, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnected {
		return fmt.Errorf("transaction: SendHangup called in state %s", t.state)
	}
	ies := ie.NewList()
	ies.AddByte(iaxconst.IECauseCode, byte(cause))
	if text != "" {
		ies.AddString(iaxconst.IECause, text)
	}
	t.localTerm = true
	t.sendSubclassLocked(iaxconst.IAXHangup, ies, true)
	t.state = StateTerminating
	return nil
}

// SendPong sends a Pong frame. It does not change the transaction state.
func (t *Transaction) SendPong() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendSubclassLocked(iaxconst.IAXPong, nil, true)
}

// SendRinging, SendAnswer, SendBusy and SendProgressing post a Control
// frame carrying the corresponding call-progress subclass. They are only
// meaningful once a call has reached Connected.
func (t *Transaction) sendControl(sub iaxconst.Subclass) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnected {
		return fmt.Errorf("transaction: control frame sent in state %s", t.state)
	}
	f := &frame.IAXFullFrame{
		SrcCallNo: t.localCallNo,
		DstCallNo: t.remoteCallNo,
		Timestamp: t.elapsedMs(),
		OSeqNo:    t.oSeqNo,
		ISeqNo:    t.iSeqNo,
		Type:      iaxconst.FrameControl,
		Subclass:  sub,
	}
	t.queueOutbound(f, false)
	t.oSeqNo = bump(t.oSeqNo)
	return nil
}

func (t *Transaction) SendRinging() error     { return t.sendControl(iaxconst.ControlRinging) }
func (t *Transaction) SendAnswer() error      { return t.sendControl(iaxconst.ControlAnswer) }
func (t *Transaction) SendBusy() error        { return t.sendControl(iaxconst.ControlBusy) }
func (t *Transaction) SendProgressing() error { return t.sendControl(iaxconst.ControlProgressing) }

// sendPingLocked posts a keepalive Ping, used by the event pump once the
// ping interval has elapsed on a quiet Connected call. The peer answers
// with a Pong that never surfaces as an event.
func (t *Transaction) sendPingLocked() {
	t.sendSubclassLocked(iaxconst.IAXPing, nil, true)
	t.lastPingAt = now()
}
