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

package pprof_test

import (
	"net"
	"testing"

	"github.com/telcore-oss/iaxhub/internal/config"
	"github.com/telcore-oss/iaxhub/internal/pprof"
)

func TestCreatePProfServer_DisabledReturnsNil(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{PProf: config.PProf{Enabled: false}}
	if err := pprof.CreatePProfServer(cfg); err != nil {
		t.Fatalf("expected nil error when pprof disabled, got: %v", err)
	}
}

func TestCreatePProfServer_PortInUseReturnsError(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	cfg := &config.Config{PProf: config.PProf{Enabled: true, Bind: "127.0.0.1", Port: port}}

	if err := pprof.CreatePProfServer(cfg); err == nil {
		t.Fatal("expected error when port is already in use, got nil")
	}
}
