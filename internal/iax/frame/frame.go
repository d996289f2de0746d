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

// Package frame encodes and decodes IAX2 wire frames: the 12-byte full
// frame header and the 4-byte mini-frame header.
package frame

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
)

// FullHeaderLen is the size in bytes of a full frame header.
const FullHeaderLen = 12

// MiniHeaderLen is the size in bytes of a mini-frame header.
const MiniHeaderLen = 4

// callNoMask isolates the 15-bit call number from the flag byte that
// shares its high bit with the full-frame / retransmit marker.
const callNoMask = 0x7FFF

// IAXFullFrame is a decoded or about-to-be-encoded full frame: header plus
// payload (IE-encoded bytes for IAX control frames, raw media for
// Voice/Video, etc).
type IAXFullFrame struct {
	SrcCallNo   uint16
	DstCallNo   uint16
	Retransmit  bool
	Timestamp   uint32
	OSeqNo      uint8
	ISeqNo      uint8
	Type        iaxconst.FrameType
	Subclass    iaxconst.Subclass
	Payload     []byte
}

// IsFullFrame reports whether b carries a full frame header, by
// inspecting the F bit of the first byte. Callers must check this before
// choosing which decoder to run.
func IsFullFrame(b []byte) bool {
	return len(b) > 0 && b[0]&0x80 != 0
}

// DecodeFull parses a full frame header and payload from b.
func DecodeFull(b []byte) (*IAXFullFrame, error) {
	if len(b) < FullHeaderLen {
		return nil, fmt.Errorf("frame: full frame too short (len=%d)", len(b))
	}
	if b[0]&0x80 == 0 {
		return nil, fmt.Errorf("frame: full-frame flag not set")
	}

	f := &IAXFullFrame{
		SrcCallNo:  (uint16(b[0]&0x7F) << 8) | uint16(b[1]),
		Retransmit: b[2]&0x80 != 0,
		DstCallNo:  (uint16(b[2]&0x7F) << 8) | uint16(b[3]),
		Timestamp:  binary.BigEndian.Uint32(b[4:8]),
		OSeqNo:     b[8],
		ISeqNo:     b[9],
		Type:       iaxconst.FrameType(b[10]),
		Subclass:   iaxconst.Subclass(b[11]),
	}
	if len(b) > FullHeaderLen {
		f.Payload = append([]byte(nil), b[FullHeaderLen:]...)
	}
	return f, nil
}

// Encode renders f as wire bytes.
func (f *IAXFullFrame) Encode() ([]byte, error) {
	if f.SrcCallNo&^callNoMask != 0 || f.DstCallNo&^callNoMask != 0 {
		return nil, fmt.Errorf("frame: call number exceeds 15 bits")
	}
	b := make([]byte, FullHeaderLen+len(f.Payload))
	b[0] = 0x80 | byte(f.SrcCallNo>>8)
	b[1] = byte(f.SrcCallNo)
	b[2] = byte(f.DstCallNo >> 8)
	if f.Retransmit {
		b[2] |= 0x80
	}
	b[3] = byte(f.DstCallNo)
	binary.BigEndian.PutUint32(b[4:8], f.Timestamp)
	b[8] = f.OSeqNo
	b[9] = f.ISeqNo
	b[10] = byte(f.Type)
	b[11] = byte(f.Subclass)
	copy(b[FullHeaderLen:], f.Payload)
	return b, nil
}

// IsControl reports whether the frame is FrameType IAX with an IAX
// control subclass that does not consume sequence space (Ack, VNAK,
// TxAcc, TxCnt, Inval).
func (f *IAXFullFrame) IsControl() bool {
	if f.Type != iaxconst.FrameIAX {
		return false
	}
	switch f.Subclass {
	case iaxconst.IAXAck, iaxconst.IAXVNAK, iaxconst.IAXTxAcc, iaxconst.IAXTxCnt, iaxconst.IAXInval:
		return true
	default:
		return false
	}
}

// IAXMiniFrame is a decoded or about-to-be-encoded mini-frame: a 4-byte
// header carrying the low 16 bits of the transaction timestamp, plus raw
// media payload.
type IAXMiniFrame struct {
	CallNo    uint16
	Timestamp uint16
	Payload   []byte
}

// DecodeMini parses a mini-frame header and payload from b.
func DecodeMini(b []byte) (*IAXMiniFrame, error) {
	if len(b) < MiniHeaderLen {
		return nil, fmt.Errorf("frame: mini frame too short (len=%d)", len(b))
	}
	if b[0]&0x80 != 0 {
		return nil, fmt.Errorf("frame: full-frame flag set on mini frame")
	}
	m := &IAXMiniFrame{
		CallNo:    (uint16(b[0]&0x7F) << 8) | uint16(b[1]),
		Timestamp: binary.BigEndian.Uint16(b[2:4]),
	}
	if len(b) > MiniHeaderLen {
		m.Payload = append([]byte(nil), b[MiniHeaderLen:]...)
	}
	return m, nil
}

// Encode renders m as wire bytes.
func (m *IAXMiniFrame) Encode() ([]byte, error) {
	if m.CallNo&^callNoMask != 0 {
		return nil, fmt.Errorf("frame: call number exceeds 15 bits")
	}
	b := make([]byte, MiniHeaderLen+len(m.Payload))
	b[0] = byte(m.CallNo >> 8)
	b[1] = byte(m.CallNo)
	binary.BigEndian.PutUint16(b[2:4], m.Timestamp)
	copy(b[MiniHeaderLen:], m.Payload)
	return b, nil
}

// IAXFrameOut wraps an outbound full frame with retransmission
// accounting: how many times it has been sent, when it was last sent, and
// whether the peer has acknowledged it.
type IAXFrameOut struct {
	Frame      *IAXFullFrame
	SentAt     time.Time
	TimesSent  int
	Acked      bool
	AckOnly    bool
}

// NewOut wraps f for retransmission tracking. ackOnly marks a frame (like
// Hangup or Reject) that should be removed from the outbound queue as
// soon as it is acked, rather than waiting for an explicit response.
func NewOut(f *IAXFullFrame, ackOnly bool) *IAXFrameOut {
	return &IAXFrameOut{Frame: f, AckOnly: ackOnly}
}

// Due reports whether interval has elapsed since the frame was last sent
// (or it has never been sent).
func (o *IAXFrameOut) Due(now time.Time, interval time.Duration) bool {
	if o.TimesSent == 0 {
		return true
	}
	return now.Sub(o.SentAt) >= interval
}

// RecordSent marks the frame as transmitted at now.
func (o *IAXFrameOut) RecordSent(now time.Time) {
	o.SentAt = now
	o.TimesSent++
}

// ExhaustedRetries reports whether the frame has already reached
// maxRetries+1 transmissions (the original transmission plus maxRetries
// retransmissions) and must not be sent again.
func (o *IAXFrameOut) ExhaustedRetries(maxRetries int) bool {
	return o.TimesSent >= maxRetries+1
}
