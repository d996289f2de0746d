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

// PostHook observes every message a Dispatcher finishes dispatching,
// regardless of whether any handler accepted it. Handle must not block on
// the dispatch path for long; it runs synchronously inside Dispatch.
type PostHook struct {
	Name   string
	Filter Filter
	Handle func(msg *Message, accepted bool)
}

func (h *PostHook) matches(msg *Message) bool {
	return matches(h.Filter, msg)
}
