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

func TestParamsOrderedDuplicates(t *testing.T) {
	t.Parallel()
	p := message.NewParams()
	p.Add("a", "1")
	p.Add("b", "2")
	p.Add("a", "3")

	if got := p.Count(); got != 3 {
		t.Fatalf("expected 3 pairs, got %d", got)
	}
	name, value := p.At(2)
	if name != "a" || value != "3" {
		t.Errorf("expected third pair a=3, got %s=%s", name, value)
	}
	if got := p.GetValue("a"); got != "1" {
		t.Errorf("GetValue should return the first occurrence, got %q", got)
	}
}

func TestParamsSetReplacesFirstOccurrence(t *testing.T) {
	t.Parallel()
	p := message.NewParams()
	p.Add("a", "1")
	p.Add("a", "2")
	p.Set("a", "replaced")

	if got := p.Count(); got != 2 {
		t.Fatalf("Set must not append a new pair, got count %d", got)
	}
	if got := p.GetValue("a"); got != "replaced" {
		t.Errorf("expected replaced, got %q", got)
	}
}

func TestParamsAppend(t *testing.T) {
	t.Parallel()
	p := message.NewParams()
	p.Append("handlers", "one")
	p.Append("handlers", ",two")

	if got := p.GetValue("handlers"); got != "one,two" {
		t.Errorf("expected \"one,two\", got %q", got)
	}
}

func TestParamsRangePreservesOrder(t *testing.T) {
	t.Parallel()
	p := message.NewParams()
	p.Add("z", "1")
	p.Add("a", "2")
	p.Add("m", "3")

	var names []string
	p.Range(func(name, value string) bool {
		names = append(names, name)
		return true
	})
	want := []string{"z", "a", "m"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("position %d: expected %s, got %s", i, n, names[i])
		}
	}
}

func TestParamsCloneIsIndependent(t *testing.T) {
	t.Parallel()
	p := message.NewParams()
	p.Add("a", "1")
	clone := p.Clone()
	clone.Set("a", "2")

	if got := p.GetValue("a"); got != "1" {
		t.Errorf("mutating the clone must not affect the original, got %q", got)
	}
}
