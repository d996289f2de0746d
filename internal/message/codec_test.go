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

package message_test

import (
	"testing"

	"github.com/telcore-oss/iaxhub/internal/message"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	msg := message.New("call.ringing")
	msg.SetParam("caller", "1001")
	msg.SetParam("callee", "1002")
	msg.SetReturn("true")

	line := message.Encode(message.OutPrefix, "42", msg)
	prefix, id, decoded, err := message.Decode(line)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if prefix != message.OutPrefix {
		t.Errorf("expected prefix %q, got %q", message.OutPrefix, prefix)
	}
	if id != "42" {
		t.Errorf("expected id 42, got %q", id)
	}
	if decoded.Name != "call.ringing" {
		t.Errorf("expected name call.ringing, got %q", decoded.Name)
	}
	if decoded.Param("caller") != "1001" || decoded.Param("callee") != "1002" {
		t.Errorf("unexpected params: caller=%q callee=%q", decoded.Param("caller"), decoded.Param("callee"))
	}
	ret, ok := decoded.Return()
	if !ok || ret != "true" {
		t.Errorf("expected return value true, got %q ok=%v", ret, ok)
	}
}

func TestEncodeEscapesDelimiters(t *testing.T) {
	t.Parallel()
	msg := message.New("needs:escaping")
	msg.SetParam("value", "a:b%c\r\n")
	msg.SetParam("key=odd", "x=y")

	line := message.Encode(message.InPrefix, "id", msg)
	_, _, decoded, err := message.Decode(line)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded.Name != "needs:escaping" {
		t.Errorf("expected name round-tripped with colon intact, got %q", decoded.Name)
	}
	if decoded.Param("value") != "a:b%c\r\n" {
		t.Errorf("expected escaped value round-tripped, got %q", decoded.Param("value"))
	}
	if decoded.Param("key=odd") != "x=y" {
		t.Errorf("expected '=' in a parameter name and value to round-trip, got %q", decoded.Param("key=odd"))
	}
}

func TestDecodeRejectsUnknownPrefix(t *testing.T) {
	t.Parallel()
	_, _, _, err := message.Decode("garbage line")
	if err == nil {
		t.Fatal("expected an error for an unrecognized prefix")
	}
}

func TestDecodeReportsByteOffsetOfTruncatedEscape(t *testing.T) {
	t.Parallel()
	line := message.OutPrefix + "id:name::k=bad%2"
	_, _, _, err := message.Decode(line)
	if err == nil {
		t.Fatal("expected an error for a truncated percent escape")
	}
	codecErr, ok := err.(*message.CodecError)
	if !ok {
		t.Fatalf("expected *message.CodecError, got %T", err)
	}
	expectedOffset := len(message.OutPrefix) + len("id:name::k=bad")
	if codecErr.Offset != expectedOffset {
		t.Errorf("expected offset %d, got %d", expectedOffset, codecErr.Offset)
	}
}

func TestDecodeRejectsParamMissingEquals(t *testing.T) {
	t.Parallel()
	line := message.OutPrefix + "id:name::noequals"
	_, _, _, err := message.Decode(line)
	if err == nil {
		t.Fatal("expected an error for a parameter field without '='")
	}
}
