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

import "regexp"

// Filter decides whether a handler or post hook is interested in a Message.
// A nil Filter matches everything.
type Filter interface {
	Matches(msg *Message) bool
}

// NameFilter matches messages by exact Name.
type NameFilter string

func (f NameFilter) Matches(msg *Message) bool {
	return msg.Name == string(f)
}

// ParamEquals matches messages whose named parameter equals Value exactly.
type ParamEquals struct {
	Param string
	Value string
}

func (f ParamEquals) Matches(msg *Message) bool {
	v, ok := msg.Params.Get(f.Param)
	return ok && v == f.Value
}

// ParamRegexp matches messages whose named parameter matches a regexp.
type ParamRegexp struct {
	Param string
	Expr  *regexp.Regexp
}

func (f ParamRegexp) Matches(msg *Message) bool {
	v, ok := msg.Params.Get(f.Param)
	return ok && f.Expr.MatchString(v)
}

// And matches when every sub-filter matches.
type And []Filter

func (f And) Matches(msg *Message) bool {
	for _, sub := range f {
		if !sub.Matches(msg) {
			return false
		}
	}
	return true
}

// Or matches when any sub-filter matches.
type Or []Filter

func (f Or) Matches(msg *Message) bool {
	for _, sub := range f {
		if sub.Matches(msg) {
			return true
		}
	}
	return false
}

func matches(f Filter, msg *Message) bool {
	if f == nil {
		return true
	}
	return f.Matches(msg)
}
