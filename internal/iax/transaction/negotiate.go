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

import "github.com/telcore-oss/iaxhub/internal/iax/iaxconst"

// negotiateFormatLocked implements the three-tier format negotiation a
// remote-initiated New is accepted with:
//
//  1. Intersect the engine's own capability mask with the peer's
//     advertised capability. An empty intersection rejects the call.
//  2. If the peer's offered format is a single recognized audio codec
//     within that intersection, use it as-is.
//  3. Otherwise, if the engine's own preferred format is within the
//     intersection, use that.
//  4. Otherwise fall back to the first codec the fixed audio precedence
//     table finds within the intersection.
//
// The second return value is false when none of the above resolves,
// meaning the call must be rejected with CauseNoMediaFormat.
func (t *Transaction) negotiateFormatLocked() (iaxconst.Codec, bool) {
	localFormat := t.engine.Format()
	localCapability := t.engine.Capability()

	capability := localCapability & t.remoteCapability
	if capability == 0 {
		return 0, false
	}

	if t.remoteFormat&capability != 0 && iaxconst.IsAudio(t.remoteFormat) {
		return t.remoteFormat, true
	}

	if localFormat&capability != 0 && iaxconst.IsAudio(localFormat) {
		return localFormat, true
	}

	for _, c := range iaxconst.AudioPrecedence {
		if capability&c != 0 {
			return c, true
		}
	}
	return 0, false
}
