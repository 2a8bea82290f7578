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

package types

import (
	"crypto/rand"
	"fmt"
)

const (
	bearerTokenLength = 24
	secretTokenLength = 32

	// SecretTokenPrefix distinguishes secret tokens from bearer tokens at
	// a glance so one is never pasted where the other belongs.
	SecretTokenPrefix = "s."

	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// BearerToken is the per-connection credential minted by a connect. It routes
// a client to its backend (it is the first path segment of the backend URL)
// and is looked up by proxies to resolve the route.
type BearerToken string

// NewBearerToken mints a fresh bearer token.
func NewBearerToken() BearerToken {
	return BearerToken(randomToken(bearerTokenLength))
}

func (t BearerToken) String() string {
	return string(t)
}

// SecretToken is minted alongside a bearer token and forwarded by the proxy
// to the backend, which can verify it to reject traffic that bypassed the
// proxy.
type SecretToken string

// NewSecretToken mints a fresh secret token.
func NewSecretToken() SecretToken {
	return SecretToken(SecretTokenPrefix + randomToken(secretTokenLength))
}

func (t SecretToken) String() string {
	return string(t)
}

// randomToken returns n characters drawn uniformly from tokenAlphabet.
// Rejection sampling keeps the distribution unbiased.
func randomToken(n int) string {
	// Largest multiple of len(tokenAlphabet) that fits in a byte.
	limit := byte(256 / len(tokenAlphabet) * len(tokenAlphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("types: reading random bytes: %v", err))
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
