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

// Package names generates and parses the prefixed identifiers used across the
// controller: backends, nodes, controllers, and backend actions. A name is a
// two-letter kind prefix joined to a random lowercase suffix (for example
// "ba-x7k2m9qp31"), which makes every identifier self-describing in logs and
// in the database.
package names

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	backendPrefix       = "ba"
	dronePrefix         = "dr"
	proxyPrefix         = "px"
	acmeDNSServerPrefix = "ns"
	controllerPrefix    = "co"
	actionPrefix        = "ak"

	suffixLength   = 10
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// NodeKind identifies what kind of node a name belongs to. It is stored as-is
// in the node table and carried in log attributes.
type NodeKind string

const (
	NodeKindDrone         NodeKind = "drone"
	NodeKindProxy         NodeKind = "proxy"
	NodeKindAcmeDNSServer NodeKind = "acme_dns_server"
)

func (k NodeKind) String() string {
	return string(k)
}

// prefix returns the name prefix nodes of this kind carry.
func (k NodeKind) prefix() string {
	switch k {
	case NodeKindDrone:
		return dronePrefix
	case NodeKindProxy:
		return proxyPrefix
	case NodeKindAcmeDNSServer:
		return acmeDNSServerPrefix
	}
	return ""
}

// BackendName identifies a single backend process for its whole lifecycle.
type BackendName string

// NewBackendName returns a fresh backend name ("ba-" prefix).
func NewBackendName() BackendName {
	return BackendName(generate(backendPrefix))
}

// ParseBackendName validates that s is a well-formed backend name.
func ParseBackendName(s string) (BackendName, error) {
	if err := validate(s, backendPrefix); err != nil {
		return "", err
	}
	return BackendName(s), nil
}

func (n BackendName) String() string {
	return string(n)
}

// ControllerName identifies one controller process. A fresh name is minted on
// every startup, so a restarted controller registers as a new row.
type ControllerName string

// NewControllerName returns a fresh controller name ("co-" prefix).
func NewControllerName() ControllerName {
	return ControllerName(generate(controllerPrefix))
}

func (n ControllerName) String() string {
	return string(n)
}

// ActionName identifies a single durable backend action (spawn or terminate).
type ActionName string

// NewActionName returns a fresh action name ("ak-" prefix).
func NewActionName() ActionName {
	return ActionName(generate(actionPrefix))
}

func (n ActionName) String() string {
	return string(n)
}

// NodeName is the name of any node (drone, proxy, or ACME DNS server). Nodes
// pick their own names so an identity survives reconnects; the kind is
// recovered from the prefix.
type NodeName string

// NewNodeName returns a fresh node name for the given kind.
func NewNodeName(kind NodeKind) NodeName {
	return NodeName(generate(kind.prefix()))
}

// ParseNodeName validates that s is a well-formed node name of a known kind.
func ParseNodeName(s string) (NodeName, error) {
	name := NodeName(s)
	if _, err := name.Kind(); err != nil {
		return "", err
	}
	return name, nil
}

func (n NodeName) String() string {
	return string(n)
}

// Kind decodes the node kind from the name prefix.
func (n NodeName) Kind() (NodeKind, error) {
	prefix, suffix, ok := strings.Cut(string(n), "-")
	if !ok || !validSuffix(suffix) {
		return "", fmt.Errorf("malformed node name %q", string(n))
	}
	switch prefix {
	case dronePrefix:
		return NodeKindDrone, nil
	case proxyPrefix:
		return NodeKindProxy, nil
	case acmeDNSServerPrefix:
		return NodeKindAcmeDNSServer, nil
	}
	return "", fmt.Errorf("unknown node name prefix %q", prefix)
}

// generate builds "<prefix>-<suffix>" with a random lowercase alphanumeric
// suffix. Names are identifiers, not secrets; the slight modulo bias from the
// byte mapping is acceptable here.
func generate(prefix string) string {
	buf := make([]byte, suffixLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand reading from the OS source does not fail on any
		// platform we run on.
		panic(fmt.Sprintf("names: reading random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return prefix + "-" + string(buf)
}

func validate(s, prefix string) error {
	got, suffix, ok := strings.Cut(s, "-")
	if !ok || got != prefix || !validSuffix(suffix) {
		return fmt.Errorf("malformed name %q: want %q prefix and lowercase alphanumeric suffix", s, prefix)
	}
	return nil
}

func validSuffix(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(suffixAlphabet, c) {
			return false
		}
	}
	return true
}
