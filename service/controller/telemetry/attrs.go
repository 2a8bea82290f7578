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

package telemetry

import (
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LabelAttrs holds pre-computed metric attribute sets keyed by one label's
// value. It avoids allocating a new attribute set on every metric call for
// known values.
type LabelAttrs struct {
	key     string
	byValue map[string]metric.MeasurementOption
}

// NewLabelAttrs pre-computes one metric.MeasurementOption per value of key.
func NewLabelAttrs(key string, values ...string) LabelAttrs {
	m := make(map[string]metric.MeasurementOption, len(values))
	for _, v := range values {
		m[v] = metric.WithAttributeSet(attribute.NewSet(attribute.String(key, v)))
	}
	return LabelAttrs{key: key, byValue: m}
}

// Get returns the pre-computed MeasurementOption for the given value. If
// value is not in the pre-computed map (unexpected value), it logs a warning
// and falls back to constructing the attribute set on the fly.
func (la LabelAttrs) Get(value string) metric.MeasurementOption {
	if attr, ok := la.byValue[value]; ok {
		return attr
	}
	log.Printf("Warning: unexpected %s %q, not in pre-computed attribute map", la.key, value)
	return metric.WithAttributeSet(attribute.NewSet(attribute.String(la.key, value)))
}

// Shared attribute sets for the hot request paths.
var (
	ConnectOutcomeAttrs = NewLabelAttrs("outcome", "spawned", "reused", "error")
	TerminationAttrs    = NewLabelAttrs("kind", "soft", "hard")
	NodeKindAttrs       = NewLabelAttrs("kind", "drone", "proxy", "acme_dns_server")
	RouteOutcomeAttrs   = NewLabelAttrs("outcome", "cached", "resolved", "not_found")
)
