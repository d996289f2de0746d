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

const miniWrapThreshold = 32767

// processMedia reconstructs the full 32-bit timestamp of an inbound
// mini-frame from its 16-bit wire value, the last seen low 16 bits, and a
// tracked high-word counter; upper layers never see raw 16-bit values.
// Accepted media is handed to the engine. Guarded by mediaMu so decode
// never serializes behind the main control-frame mutex.
func (t *Transaction) processMedia(m *frame.IAXMiniFrame) {
	t.mediaMu.Lock()
	defer t.mediaMu.Unlock()

	if !t.haveInboundMedia {
		t.haveInboundMedia = true
		t.lastMiniFrameIn = m.Timestamp
		t.engine.ProcessMedia(t, m.Payload, t.reconstructedTimestamp(m.Timestamp))
		return
	}

	delta := int32(m.Timestamp) - int32(t.lastMiniFrameIn)
	wrapped := false
	if delta < 0 {
		// Low 16 bits wrapped; the high word advances one block.
		delta += 1 << 16
		t.miniFrameInHigh++
		wrapped = true
	}

	switch {
	case delta == 0:
		// Resync: accept and reset tracking to this timestamp, without
		// advancing the high word (the wrap above only fires on delta<0).
		t.lastMiniFrameIn = m.Timestamp
		t.engine.ProcessMedia(t, m.Payload, t.reconstructedTimestamp(m.Timestamp))
	case delta > 0 && delta < miniWrapThreshold:
		t.lastMiniFrameIn = m.Timestamp
		t.engine.ProcessMedia(t, m.Payload, t.reconstructedTimestamp(m.Timestamp))
	default:
		if wrapped {
			// Not a forward wrap after all, just a stale frame from before
			// the boundary: undo the speculative high-word bump above.
			t.miniFrameInHigh--
		}
		t.mu.Lock()
		t.inOutOfOrder++
		t.mu.Unlock()
	}
}

// reconstructedTimestamp combines the tracked high word with the wire's
// low 16 bits into the 32-bit timestamp surfaced to the engine.
func (t *Transaction) reconstructedTimestamp(low uint16) uint32 {
	return (t.miniFrameInHigh << 16) | uint32(low)
}

// SendMedia transmits a voice payload in format, emitting a resyncing
// full Voice frame when the transaction's low 16 timestamp bits have
// wrapped behind the last mini-frame sent, and a bare 4-byte mini-frame
// otherwise. Mini-frames are written directly to the socket, never
// queued for retransmission.
func (t *Transaction) SendMedia(payload []byte, format iaxconst.Codec) {
	t.mu.Lock()
	ts := t.elapsedMs()
	lo := uint16(ts)
	needsResync := lo < t.lastMiniFrameOut
	src, dst := t.localCallNo, t.remoteCallNo
	oSeqNo, iSeqNo := t.oSeqNo, t.iSeqNo
	t.mu.Unlock()

	if needsResync {
		f := &frame.IAXFullFrame{
			SrcCallNo: src,
			DstCallNo: dst,
			Timestamp: ts,
			OSeqNo:    oSeqNo,
			ISeqNo:    iSeqNo,
			Type:      iaxconst.FrameVoice,
			Subclass:  iaxconst.Subclass(formatBit(format)),
			Payload:   payload,
		}
		b, err := f.Encode()
		if err != nil {
			return
		}
		t.engine.WriteSocket(b, t.remoteAddr)
		t.mu.Lock()
		t.oSeqNo = bump(t.oSeqNo)
		t.lastMiniFrameOut = lo
		t.mu.Unlock()
		return
	}

	mini := &frame.IAXMiniFrame{CallNo: src, Timestamp: lo, Payload: payload}
	b, err := mini.Encode()
	if err != nil {
		return
	}
	t.engine.WriteSocket(b, t.remoteAddr)
	t.mu.Lock()
	t.lastMiniFrameOut = lo
	t.mu.Unlock()
}

// formatBit returns the bit index of the lowest set bit in a single-codec
// mask, for use as a Voice frame's subclass byte.
func formatBit(c iaxconst.Codec) uint8 {
	for i := uint8(0); i < 32; i++ {
		if c&(1<<i) != 0 {
			return i
		}
	}
	return 0
}
