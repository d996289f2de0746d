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

package frame_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/telcore-oss/iaxhub/internal/iax/frame"
	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
)

func TestFullFrameEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	f := &frame.IAXFullFrame{
		SrcCallNo: 0x1234 & 0x7FFF,
		DstCallNo: 0x0A,
		Timestamp: 123456,
		OSeqNo:    3,
		ISeqNo:    4,
		Type:      iaxconst.FrameIAX,
		Subclass:  iaxconst.IAXNew,
		Payload:   []byte{1, 2, 3},
	}
	b, err := f.Encode()
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if len(b) != frame.FullHeaderLen+len(f.Payload) {
		t.Fatalf("expected %d bytes, got %d", frame.FullHeaderLen+len(f.Payload), len(b))
	}
	if !frame.IsFullFrame(b) {
		t.Fatal("expected F bit set")
	}

	decoded, err := frame.DecodeFull(b)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if diff := cmp.Diff(f, decoded); diff != "" {
		t.Errorf("full frame did not round-trip (-want +got):\n%s", diff)
	}
}

func TestFullFrameRejectsOversizedCallNumber(t *testing.T) {
	t.Parallel()
	f := &frame.IAXFullFrame{SrcCallNo: 0x8000}
	if _, err := f.Encode(); err == nil {
		t.Fatal("expected an error for a call number exceeding 15 bits")
	}
}

func TestDecodeFullRejectsMiniFrame(t *testing.T) {
	t.Parallel()
	b := make([]byte, frame.FullHeaderLen)
	if _, err := frame.DecodeFull(b); err == nil {
		t.Fatal("expected an error when the F bit is clear")
	}
}

func TestMiniFrameEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	m := &frame.IAXMiniFrame{CallNo: 0x55, Timestamp: 0xBEEF, Payload: []byte{9, 9}}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if frame.IsFullFrame(b) {
		t.Fatal("expected F bit clear on a mini frame")
	}
	decoded, err := frame.DecodeMini(b)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if diff := cmp.Diff(m, decoded); diff != "" {
		t.Errorf("mini frame header did not round-trip (-want +got):\n%s", diff)
	}
}

func TestIsControlClassifiesAckAndVNAK(t *testing.T) {
	t.Parallel()
	ack := &frame.IAXFullFrame{Type: iaxconst.FrameIAX, Subclass: iaxconst.IAXAck}
	if !ack.IsControl() {
		t.Error("expected Ack to be a control frame")
	}
	newFrame := &frame.IAXFullFrame{Type: iaxconst.FrameIAX, Subclass: iaxconst.IAXNew}
	if newFrame.IsControl() {
		t.Error("New must consume sequence space, not be treated as control")
	}
	voice := &frame.IAXFullFrame{Type: iaxconst.FrameVoice}
	if voice.IsControl() {
		t.Error("Voice frames are never IAX control frames")
	}
}

func TestOutboundFrameRetransmissionAccounting(t *testing.T) {
	t.Parallel()
	f := frame.NewOut(&frame.IAXFullFrame{}, false)
	now := time.Unix(0, 0)

	if !f.Due(now, time.Second) {
		t.Fatal("a never-sent frame must be immediately due")
	}
	f.RecordSent(now)
	if f.Due(now, time.Second) {
		t.Fatal("a just-sent frame must not be due before the interval elapses")
	}
	if f.Due(now.Add(500*time.Millisecond), time.Second) {
		t.Fatal("half the interval must not be due yet")
	}
	if !f.Due(now.Add(time.Second), time.Second) {
		t.Fatal("a full interval must be due")
	}

	for i := 0; i < 5; i++ {
		f.RecordSent(now)
	}
	if !f.ExhaustedRetries(5) {
		t.Fatalf("expected retries exhausted after %d sends, got TimesSent=%d", f.TimesSent, f.TimesSent)
	}
}
