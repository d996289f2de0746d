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

package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Wire line prefixes, matching the external-module line protocol this bus
// exposes to out-of-process peers: an engine-originated message starts
// with OutPrefix, a peer's reply (or peer-originated message) starts with
// InPrefix.
const (
	OutPrefix = "%%>message:"
	InPrefix  = "%%<message:"
)

// CodecError reports a decode failure at a specific byte offset into the
// original line, so a caller can point a peer at exactly what it sent
// wrong instead of just "malformed line".
type CodecError struct {
	Offset int
	Reason string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("message codec: offset %d: %s", e.Offset, e.Reason)
}

func escapeField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '%':
			b.WriteString("%25")
		case ':':
			b.WriteString("%3a")
		case '=':
			b.WriteString("%3d")
		case '\r':
			b.WriteString("%0d")
		case '\n':
			b.WriteString("%0a")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unescapeField(s string, baseOffset int) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", &CodecError{Offset: baseOffset + i, Reason: "truncated percent escape"}
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", &CodecError{Offset: baseOffset + i, Reason: "invalid percent escape"}
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

// Encode renders msg as a single wire line (without trailing newline)
// under the given prefix, e.g. OutPrefix for an engine-originated message.
// id is an opaque correlation token the peer must echo back in its reply.
func Encode(prefix, id string, msg *Message) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(escapeField(id))
	b.WriteByte(':')
	b.WriteString(escapeField(msg.Name))
	retVal, _ := msg.Return()
	b.WriteByte(':')
	b.WriteString(escapeField(retVal))
	msg.Params.Range(func(name, value string) bool {
		b.WriteByte(':')
		b.WriteString(escapeField(name))
		b.WriteByte('=')
		b.WriteString(escapeField(value))
		return true
	})
	return b.String()
}

// Decode parses a wire line previously produced by Encode (sans its
// trailing newline), returning the prefix it started with, the
// correlation id, and the reconstructed Message. Any malformed escape or
// missing field is reported with the byte offset into line where the
// problem was found.
func Decode(line string) (prefix string, id string, msg *Message, err error) {
	switch {
	case strings.HasPrefix(line, OutPrefix):
		prefix = OutPrefix
	case strings.HasPrefix(line, InPrefix):
		prefix = InPrefix
	default:
		return "", "", nil, &CodecError{Offset: 0, Reason: "unrecognized line prefix"}
	}

	rest := line[len(prefix):]
	fields, offsets := splitEscaped(rest, len(prefix))
	if len(fields) < 3 {
		return "", "", nil, &CodecError{Offset: len(line), Reason: "missing required fields"}
	}

	id, err = unescapeField(fields[0], offsets[0])
	if err != nil {
		return "", "", nil, err
	}
	name, err := unescapeField(fields[1], offsets[1])
	if err != nil {
		return "", "", nil, err
	}
	retVal, err := unescapeField(fields[2], offsets[2])
	if err != nil {
		return "", "", nil, err
	}

	m := New(name)
	if retVal != "" {
		m.SetReturn(retVal)
	}
	for i := 3; i < len(fields); i++ {
		// Split on the raw separator before unescaping, so a '%3d' inside
		// the name or value never masquerades as the delimiter.
		raw := fields[i]
		eq := strings.IndexByte(raw, '=')
		if eq < 0 {
			return "", "", nil, &CodecError{Offset: offsets[i], Reason: "parameter missing '='"}
		}
		pName, pErr := unescapeField(raw[:eq], offsets[i])
		if pErr != nil {
			return "", "", nil, pErr
		}
		pValue, pErr := unescapeField(raw[eq+1:], offsets[i]+eq+1)
		if pErr != nil {
			return "", "", nil, pErr
		}
		m.Params.Add(pName, pValue)
	}

	return prefix, id, m, nil
}

// splitEscaped splits s on ':' bytes that are not part of a "%3a" escape
// sequence, returning each field alongside its absolute byte offset
// (baseOffset + position within s) for error reporting.
func splitEscaped(s string, baseOffset int) ([]string, []int) {
	var fields []string
	var offsets []int
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != ':' {
			continue
		}
		fields = append(fields, s[start:i])
		offsets = append(offsets, baseOffset+start)
		start = i + 1
	}
	fields = append(fields, s[start:])
	offsets = append(offsets, baseOffset+start)
	return fields, offsets
}
