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

// Package types defines the domain types shared by the controller's database
// layer, socket protocol, and HTTP API: backend lifecycle statuses, cluster
// names, connect requests and responses, and connection tokens.
package types

import "strconv"

// NodeID is the database identity of a registered node. Node names are chosen
// by the nodes themselves; the numeric id is assigned on first registration
// and is what backends and actions reference.
type NodeID int64

func (id NodeID) String() string {
	return strconv.FormatInt(int64(id), 10)
}
