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

package database

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rawNotification builds the wire form the dispatcher receives from
// pg_notify.
func rawNotification(kind, key, payload string) string {
	return fmt.Sprintf(`{"kind": %q, "key": %q, "timestamp": "2026-08-25T12:00:00.000000+00:00", "payload": %s}`, kind, key, payload)
}

func TestDispatchRoutesByKindAndKey(t *testing.T) {
	l := NewListener(nil, testLogger())
	matching := l.Subscribe("backend_state", "ba-one")
	otherKey := l.Subscribe("backend_state", "ba-two")
	otherKind := l.Subscribe("backend_action", "ba-one")
	defer matching.Close()
	defer otherKey.Close()
	defer otherKind.Close()

	l.dispatch(rawNotification("backend_state", "ba-one", `"ready"`))

	select {
	case n := <-matching.Notifications():
		if n.Kind != "backend_state" || n.Key != "ba-one" {
			t.Errorf("notification = %+v", n)
		}
		if string(n.Payload) != `"ready"` {
			t.Errorf("payload = %s, want \"ready\"", n.Payload)
		}
		if n.Timestamp.IsZero() {
			t.Error("timestamp did not decode")
		}
	default:
		t.Fatal("matching subscription received nothing")
	}

	select {
	case n := <-otherKey.Notifications():
		t.Errorf("subscription on another key received %+v", n)
	default:
	}
	select {
	case n := <-otherKind.Notifications():
		t.Errorf("subscription on another kind received %+v", n)
	default:
	}
}

func TestDispatchFansOutToAllSubscribers(t *testing.T) {
	l := NewListener(nil, testLogger())
	first := l.Subscribe("backend_state", "ba-one")
	second := l.Subscribe("backend_state", "ba-one")
	defer first.Close()
	defer second.Close()

	l.dispatch(rawNotification("backend_state", "ba-one", `"loading"`))

	for i, sub := range []*Subscription{first, second} {
		select {
		case <-sub.Notifications():
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestSlowSubscriberLagsOut(t *testing.T) {
	l := NewListener(nil, testLogger())
	slow := l.Subscribe("backend_state", "ba-one")
	healthy := l.Subscribe("backend_state", "ba-one")
	defer healthy.Close()

	// One more than the buffer: the last dispatch finds the channel full.
	for i := 0; i <= subscriptionBuffer; i++ {
		l.dispatch(rawNotification("backend_state", "ba-one", `"ready"`))
		// Keep the healthy subscriber drained.
		<-healthy.Notifications()
	}

	for i := 0; i < subscriptionBuffer; i++ {
		if _, ok := <-slow.Notifications(); !ok {
			t.Fatalf("buffered notification %d missing", i)
		}
	}
	if _, ok := <-slow.Notifications(); ok {
		t.Fatal("lagged subscription channel should be closed after its buffer drains")
	}
	if !errors.Is(slow.Err(), ErrSubscriptionLagged) {
		t.Errorf("Err() = %v, want ErrSubscriptionLagged", slow.Err())
	}

	// The healthy subscriber is unaffected and keeps receiving.
	l.dispatch(rawNotification("backend_state", "ba-one", `"ready"`))
	select {
	case <-healthy.Notifications():
	default:
		t.Error("healthy subscriber stopped receiving after peer lagged")
	}
	if healthy.Err() != nil {
		t.Errorf("healthy subscriber Err() = %v, want nil", healthy.Err())
	}
}

func TestCloseDetachesSubscription(t *testing.T) {
	l := NewListener(nil, testLogger())
	sub := l.Subscribe("backend_state", "ba-one")
	sub.Close()
	sub.Close() // idempotent

	if _, ok := <-sub.Notifications(); ok {
		t.Fatal("closed subscription channel should be closed")
	}
	if sub.Err() != nil {
		t.Errorf("Err() after clean close = %v, want nil", sub.Err())
	}

	// Dispatching to the closed subscription's key must not panic.
	l.dispatch(rawNotification("backend_state", "ba-one", `"ready"`))
}

func TestCloseAllMarksSubscribersLagged(t *testing.T) {
	l := NewListener(nil, testLogger())
	first := l.Subscribe("backend_state", "ba-one")
	second := l.Subscribe("backend_action", "7")

	l.closeAll(ErrSubscriptionLagged)

	for i, sub := range []*Subscription{first, second} {
		if _, ok := <-sub.Notifications(); ok {
			t.Errorf("subscriber %d channel still open after closeAll", i)
		}
		if !errors.Is(sub.Err(), ErrSubscriptionLagged) {
			t.Errorf("subscriber %d Err() = %v, want ErrSubscriptionLagged", i, sub.Err())
		}
	}
}

func TestDispatchDropsUndecodableNotification(t *testing.T) {
	l := NewListener(nil, testLogger())
	sub := l.Subscribe("backend_state", "ba-one")
	defer sub.Close()

	l.dispatch("not json at all")

	select {
	case n := <-sub.Notifications():
		t.Errorf("received %+v from undecodable notification", n)
	default:
	}
}
