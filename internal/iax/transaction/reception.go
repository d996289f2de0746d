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
)

// seqOutcome classifies an inbound non-control frame against the
// transaction's expected sequence position.
type seqOutcome int

const (
	seqAccept seqOutcome = iota
	seqOutOfOrder
	seqLateDuplicate
)

// isFrameAcceptable compares a frame's oSeqNo to the transaction's iSeqNo
// using modular 8-bit arithmetic: equal means in-order, positive means
// the peer is ahead (a gap we haven't seen yet), negative means a late
// duplicate of a frame already processed.
func (t *Transaction) isFrameAcceptable(f *frame.IAXFullFrame) seqOutcome {
	d := cmpSeq(f.OSeqNo, t.iSeqNo)
	switch {
	case d == 0:
		return seqAccept
	case d > 0:
		return seqOutOfOrder
	default:
		return seqLateDuplicate
	}
}

// ProcessMiniFrame hands a decoded mini-frame to media reconstruction.
// Mini-frames never mutate sequence-number state.
func (t *Transaction) ProcessMiniFrame(m *frame.IAXMiniFrame) {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state == StateTerminated {
		return
	}
	t.processMedia(m)
}

// ProcessFrame delivers a decoded full frame to the transaction's state
// machine. It is safe to call from a single reader goroutine per engine.
func (t *Transaction) ProcessFrame(f *frame.IAXFullFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateTerminated {
		t.sendInval(f)
		return
	}

	if t.state == StateTerminating {
		if t.localTerm && f.Type == iaxconst.FrameIAX && f.Subclass == iaxconst.IAXAck {
			t.handleAck(f)
		}
		return
	}

	if f.Type != iaxconst.FrameIAX || !f.IsControl() {
		if len(t.inFrames) >= t.maxInFrames {
			t.inDroppedFrames++
			return
		}
	}

	if f.Type == iaxconst.FrameIAX && f.Subclass == iaxconst.IAXAck {
		t.handleAck(f)
		return
	}

	if f.Type == iaxconst.FrameIAX && f.IsControl() {
		// VNAK, TxAcc, TxCnt, Inval: observed but do not consume
		// sequence space or queue for getEvent.
		if f.Subclass == iaxconst.IAXVNAK {
			t.markRetransmitDue()
		}
		return
	}

	switch t.isFrameAcceptable(f) {
	case seqOutOfOrder:
		t.inOutOfOrder++
		t.sendVNAK()
		return
	case seqLateDuplicate:
		return
	}

	t.iSeqNo = bump(t.iSeqNo)
	t.inTotal++
	t.lastActivity = now()
	t.sendAck(f)

	if f.Type == iaxconst.FrameVoice && len(f.Payload) > 0 {
		t.engine.ProcessMedia(t, f.Payload, f.Timestamp)
		f.Payload = nil
	}

	t.inFrames = append(t.inFrames, inboundEntry{frame: f})
}

func (t *Transaction) sendInval(f *frame.IAXFullFrame) {
	inval := &frame.IAXFullFrame{
		SrcCallNo: t.localCallNo,
		DstCallNo: t.remoteCallNo,
		Timestamp: f.Timestamp,
		OSeqNo:    t.oSeqNo,
		ISeqNo:    t.iSeqNo,
		Type:      iaxconst.FrameIAX,
		Subclass:  iaxconst.IAXInval,
	}
	b, err := inval.Encode()
	if err != nil {
		return
	}
	t.engine.WriteSocket(b, t.remoteAddr)
}

// handleAck marks the first outbound frame whose timestamp equals the
// ack's timestamp as acknowledged. An ack-only frame is removed from
// the outbound queue once acked.
func (t *Transaction) handleAck(f *frame.IAXFullFrame) {
	for i, out := range t.outFrames {
		of := out.Frame
		if of.Timestamp == f.Timestamp {
			out.Acked = true
			if out.AckOnly {
				t.outFrames = append(t.outFrames[:i], t.outFrames[i+1:]...)
			}
			return
		}
	}
}

// markRetransmitDue is intentionally a no-op: a VNAK does not force an
// immediate resend. The normal retransmission-due check in the event pump
// catches unacked frames on its next pass.
func (t *Transaction) markRetransmitDue() {}
