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

package ie_test

import (
	"testing"

	"github.com/telcore-oss/iaxhub/internal/iax/ie"
	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
)

func TestListEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	l := ie.NewList()
	l.AddString(iaxconst.IEUsername, "alice")
	l.AddUint32(iaxconst.IECapability, 0x0007)
	l.AddUint16(iaxconst.IEAuthMethods, uint16(iaxconst.AuthMD5))
	l.AddByte(iaxconst.IERefresh, 60)

	b, err := l.Encode()
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	decoded, err := ie.Decode(b)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	name, ok := decoded.GetString(iaxconst.IEUsername)
	if !ok || name != "alice" {
		t.Errorf("expected username alice, got %q ok=%v", name, ok)
	}
	cap32, ok := decoded.GetUint32(iaxconst.IECapability)
	if !ok || cap32 != 0x0007 {
		t.Errorf("expected capability 0x7, got %#x ok=%v", cap32, ok)
	}
	auth16, ok := decoded.GetUint16(iaxconst.IEAuthMethods)
	if !ok || auth16 != uint16(iaxconst.AuthMD5) {
		t.Errorf("expected auth methods MD5, got %d ok=%v", auth16, ok)
	}
	refresh, ok := decoded.GetByte(iaxconst.IERefresh)
	if !ok || refresh != 60 {
		t.Errorf("expected refresh 60, got %d ok=%v", refresh, ok)
	}
}

func TestListPreservesDuplicateTypesInOrder(t *testing.T) {
	t.Parallel()
	l := ie.NewList()
	l.AddString(iaxconst.IECallingNumber, "first")
	l.AddString(iaxconst.IECallingNumber, "second")

	b, err := l.Encode()
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	decoded, err := ie.Decode(b)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	elems := decoded.Elements()
	if len(elems) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(elems))
	}
	if string(elems[0].Value) != "first" || string(elems[1].Value) != "second" {
		t.Errorf("expected duplicate elements in insertion order, got %v", elems)
	}
	// Get returns the first occurrence only.
	first, _ := decoded.GetString(iaxconst.IECallingNumber)
	if first != "first" {
		t.Errorf("expected Get to return the first occurrence, got %q", first)
	}
}

func TestDecodeRejectsTruncatedElement(t *testing.T) {
	t.Parallel()
	b := []byte{byte(iaxconst.IEUsername), 5, 'a', 'b'}
	if _, err := ie.Decode(b); err == nil {
		t.Fatal("expected an error for a truncated element value")
	}
}

func TestEncodeRejectsOversizedValue(t *testing.T) {
	t.Parallel()
	l := ie.NewList()
	l.AddBytes(iaxconst.IEFirmwareVer, make([]byte, 256))
	if _, err := l.Encode(); err == nil {
		t.Fatal("expected an error for a value exceeding 255 bytes")
	}
}
