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

import "strings"

// Params is an ordered name/value list. Unlike a map, duplicate names are
// permitted and insertion order is preserved and observable to handlers
// iterating the list.
type Params struct {
	pairs []pair
}

type pair struct {
	name  string
	value string
}

// NewParams returns an empty parameter list.
func NewParams() *Params {
	return &Params{}
}

// Add appends a name/value pair, even if name already exists.
func (p *Params) Add(name, value string) {
	p.pairs = append(p.pairs, pair{name: name, value: value})
}

// Set replaces the first existing occurrence of name, or appends if absent.
func (p *Params) Set(name, value string) {
	for i := range p.pairs {
		if p.pairs[i].name == name {
			p.pairs[i].value = value
			return
		}
	}
	p.Add(name, value)
}

// Get returns the first value for name and whether it was present.
func (p *Params) Get(name string) (string, bool) {
	for _, kv := range p.pairs {
		if kv.name == name {
			return kv.value, true
		}
	}
	return "", false
}

// GetValue returns the first value for name, or "" if absent.
func (p *Params) GetValue(name string) string {
	v, _ := p.Get(name)
	return v
}

// Append concatenates s onto the existing value for name, or sets it if absent.
func (p *Params) Append(name, s string) {
	for i := range p.pairs {
		if p.pairs[i].name == name {
			p.pairs[i].value += s
			return
		}
	}
	p.Add(name, s)
}

// Count returns the number of pairs, including duplicates.
func (p *Params) Count() int {
	return len(p.pairs)
}

// At returns the name/value pair at position i in insertion order.
func (p *Params) At(i int) (name, value string) {
	kv := p.pairs[i]
	return kv.name, kv.value
}

// Range calls fn for every pair in insertion order, stopping early if fn
// returns false.
func (p *Params) Range(fn func(name, value string) bool) {
	for _, kv := range p.pairs {
		if !fn(kv.name, kv.value) {
			return
		}
	}
}

// String renders the list as "name=value" pairs separated by spaces, for
// logging.
func (p *Params) String() string {
	var b strings.Builder
	for i, kv := range p.pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(kv.name)
		b.WriteByte('=')
		b.WriteString(kv.value)
	}
	return b.String()
}

// Clone returns a deep copy safe for independent mutation.
func (p *Params) Clone() *Params {
	if p == nil {
		return NewParams()
	}
	cp := make([]pair, len(p.pairs))
	copy(cp, p.pairs)
	return &Params{pairs: cp}
}
