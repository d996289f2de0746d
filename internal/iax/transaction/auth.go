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

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
	"github.com/telcore-oss/iaxhub/internal/iax/ie"
)

const max32Bit = 0xFFFFFFFF

// randomChallenge returns a pseudo-random 32-bit decimal challenge
// string, the form IAX2 peers exchange in the Challenge IE.
func randomChallenge() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max32Bit))
	if err != nil {
		return "", fmt.Errorf("transaction: generate challenge: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()), nil
}

// SendAuth is called on a remote-initiated transaction (state
// NewRemoteInvite) to challenge the caller: it picks a random challenge,
// records the requested auth method, and posts an AuthReq. Only MD5 is
// actually implemented; Text and RSA are recognized but negotiating them
// always leads to a Reject once the reply is evaluated.
func (t *Transaction) SendAuth(method iaxconst.AuthMethod) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateNewRemoteInvite {
		return fmt.Errorf("transaction: SendAuth called in state %s", t.state)
	}
	challenge, err := randomChallenge()
	if err != nil {
		return err
	}
	t.challenge = challenge
	t.authMethod = method

	subclass := iaxconst.IAXAuthReq
	if t.typ == TypeRegReq || t.typ == TypeRegRel {
		subclass = iaxconst.IAXRegAuth
	}
	ies := ie.NewList()
	ies.AddString(iaxconst.IEUsername, t.username)
	ies.AddUint16(iaxconst.IEAuthMethods, uint16(method))
	ies.AddString(iaxconst.IEChallenge, challenge)
	t.sendSubclassLocked(subclass, ies, false)
	t.state = StateNewRemoteInviteAuthSent
	return nil
}

// SendAuthReply is called on a local-initiated transaction (state
// NewLocalInviteAuthRecv, after an AuthReq event) to answer an MD5
// challenge with the given password.
func (t *Transaction) SendAuthReply(password string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateNewLocalInviteAuthRecv {
		return fmt.Errorf("transaction: SendAuthReply called in state %s", t.state)
	}
	t.password = password
	result := t.engine.GetMD5FromChallenge(t.challenge, password)
	t.authdata = result

	ies := ie.NewList()
	ies.AddString(iaxconst.IEMD5Result, result)
	t.sendSubclassLocked(iaxconst.IAXAuthRep, ies, false)
	t.state = StateNewLocalInviteRepSent
	return nil
}

// verifyAuthReply checks an inbound AuthRep's MD5 result against the
// transaction's recorded challenge and password, returning false for any
// auth method other than MD5. RSA and Text are recognized but not
// implemented, so negotiating them fails here rather than stalling.
func (t *Transaction) verifyAuthReply(ies *ie.List) bool {
	if t.authMethod != iaxconst.AuthMD5 {
		return false
	}
	result, ok := ies.GetString(iaxconst.IEMD5Result)
	if !ok {
		return false
	}
	t.authdata = result
	return t.engine.IsMD5ChallengeCorrect(result, t.challenge, t.password)
}
