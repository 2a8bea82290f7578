/*
SPDX-FileCopyrightText: Copyright (c) 2026 Jamsocket, Inc. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConnectURL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		cluster types.ClusterName
		want    string
	}{
		{"default port is https", "plane.example.com", "https://plane.example.com/tok/"},
		{"explicit 443 is https", "plane.example.com:443", "https://plane.example.com:443/tok/"},
		{"other port is http", "localhost:9090", "http://localhost:9090/tok/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ConnectURL(tc.cluster, "tok"); got != tc.want {
				t.Errorf("ConnectURL(%q) = %q, want %q", tc.cluster, got, tc.want)
			}
		})
	}
}

func TestBackendURL(t *testing.T) {
	t.Parallel()
	public, err := url.Parse("https://plane.example.com")
	if err != nil {
		t.Fatal(err)
	}
	c := New(nil, nil, Config{PublicURL: public}, testLogger(), nil)

	if got, want := c.backendURL("ba-abcdefghij", "status"), "https://plane.example.com/pub/b/ba-abcdefghij/status"; got != want {
		t.Errorf("status url = %q, want %q", got, want)
	}
	if got, want := c.backendURL("ba-abcdefghij", "ready"), "https://plane.example.com/pub/b/ba-abcdefghij/ready"; got != want {
		t.Errorf("ready url = %q, want %q", got, want)
	}
}

func TestConnectRequiresCluster(t *testing.T) {
	t.Parallel()
	c := New(nil, nil, Config{}, testLogger(), nil)

	_, err := c.Connect(context.Background(), "", &types.ConnectRequest{
		SpawnConfig: &types.SpawnConfig{Executable: types.ExecutorConfig{Image: "nginx"}},
	})
	if !errors.Is(err, ErrNoCluster) {
		t.Errorf("err = %v, want ErrNoCluster", err)
	}
}

func TestRegisterNodeRejectsBadHandshakes(t *testing.T) {
	t.Parallel()
	c := New(nil, nil, Config{}, testLogger(), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		hs   protocol.Handshake
		kind names.NodeKind
	}{
		{"garbage name", protocol.Handshake{Name: "not a name"}, names.NodeKindDrone},
		{"unknown prefix", protocol.Handshake{Name: "zz-abcdefghij"}, names.NodeKindDrone},
		{"proxy name on drone socket", protocol.Handshake{Name: string(names.NewNodeName(names.NodeKindProxy))}, names.NodeKindDrone},
		{"drone name on proxy socket", protocol.Handshake{Name: string(names.NewNodeName(names.NodeKindDrone))}, names.NodeKindProxy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.RegisterNode(ctx, &tc.hs, tc.kind, nil, "10.0.0.1")
			if !errors.Is(err, ErrInvalidHandshake) {
				t.Errorf("err = %v, want ErrInvalidHandshake", err)
			}
		})
	}
}
