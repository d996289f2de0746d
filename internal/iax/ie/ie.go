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

// Package ie encodes and decodes IAXIEList, the type-length-value list
// carried as the payload of IAX2 control frames.
package ie

import (
	"encoding/binary"
	"fmt"

	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
)

// Element is a single decoded information element.
type Element struct {
	Type  iaxconst.IEType
	Value []byte
}

// List is an ordered sequence of information elements. Order is
// preserved; the same type may appear more than once (the protocol
// permits this for elements such as calling-number presentation).
type List struct {
	elems []Element
}

// NewList returns an empty information-element list.
func NewList() *List {
	return &List{}
}

// AddString appends a UTF-8 text element.
func (l *List) AddString(t iaxconst.IEType, s string) {
	l.elems = append(l.elems, Element{Type: t, Value: []byte(s)})
}

// AddBytes appends a raw-bytes element.
func (l *List) AddBytes(t iaxconst.IEType, b []byte) {
	l.elems = append(l.elems, Element{Type: t, Value: append([]byte(nil), b...)})
}

// AddUint32 appends a big-endian 32-bit element.
func (l *List) AddUint32(t iaxconst.IEType, v uint32) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	l.elems = append(l.elems, Element{Type: t, Value: b})
}

// AddUint16 appends a big-endian 16-bit element.
func (l *List) AddUint16(t iaxconst.IEType, v uint16) {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	l.elems = append(l.elems, Element{Type: t, Value: b})
}

// AddByte appends a single-byte element.
func (l *List) AddByte(t iaxconst.IEType, v byte) {
	l.elems = append(l.elems, Element{Type: t, Value: []byte{v}})
}

// Get returns the first element of type t, if any.
func (l *List) Get(t iaxconst.IEType) ([]byte, bool) {
	for _, e := range l.elems {
		if e.Type == t {
			return e.Value, true
		}
	}
	return nil, false
}

// GetString returns the first element of type t as a string.
func (l *List) GetString(t iaxconst.IEType) (string, bool) {
	v, ok := l.Get(t)
	return string(v), ok
}

// GetUint32 returns the first element of type t as a big-endian uint32.
func (l *List) GetUint32(t iaxconst.IEType) (uint32, bool) {
	v, ok := l.Get(t)
	if !ok || len(v) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// GetUint16 returns the first element of type t as a big-endian uint16.
func (l *List) GetUint16(t iaxconst.IEType) (uint16, bool) {
	v, ok := l.Get(t)
	if !ok || len(v) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

// GetByte returns the first element of type t as a single byte.
func (l *List) GetByte(t iaxconst.IEType) (byte, bool) {
	v, ok := l.Get(t)
	if !ok || len(v) < 1 {
		return 0, false
	}
	return v[0], true
}

// Elements returns the list's elements in wire order.
func (l *List) Elements() []Element {
	return l.elems
}

// Encode renders the list as a sequence of 1-byte-type, 1-byte-length,
// value triples.
func (l *List) Encode() ([]byte, error) {
	var out []byte
	for _, e := range l.elems {
		if len(e.Value) > 255 {
			return nil, fmt.Errorf("ie: element type %d value too long (%d bytes)", e.Type, len(e.Value))
		}
		out = append(out, byte(e.Type), byte(len(e.Value)))
		out = append(out, e.Value...)
	}
	return out, nil
}

// Decode parses b as an IAXIEList payload.
func Decode(b []byte) (*List, error) {
	l := NewList()
	i := 0
	for i < len(b) {
		if i+2 > len(b) {
			return nil, fmt.Errorf("ie: truncated element header at offset %d", i)
		}
		t := iaxconst.IEType(b[i])
		n := int(b[i+1])
		i += 2
		if i+n > len(b) {
			return nil, fmt.Errorf("ie: truncated element value at offset %d", i)
		}
		l.elems = append(l.elems, Element{Type: t, Value: append([]byte(nil), b[i:i+n]...)})
		i += n
	}
	return l, nil
}
