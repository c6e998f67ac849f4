// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"context"
	"log/slog"

	"github.com/flowforge/workflows/internal/platformlog"
)

// Reap deletes every guest user whose guest_expires_at has passed (cascading
// to their workflows, credentials, and balance) and every orphaned guest
// session whose expires_at has passed independently of its owning user's
// expiry. The two lists are reaped separately because a guest session can
// outlive or underlive its owning guest user's own expiry window.
func (s *Scheduler) Reap(ctx context.Context) error {
	now := s.Now()

	expiredUsers, err := s.Store.ListExpiredGuestUsers(ctx, now)
	if err != nil {
		return err
	}
	for _, u := range expiredUsers {
		if err := s.Store.DeleteUser(ctx, u.ID); err != nil {
			s.Log.Error("failed to reap expired guest user", slog.String("user_id", u.ID.String()), platformlog.Error(err))
		}
	}

	expiredSessions, err := s.Store.ListExpiredGuestSessions(ctx, now)
	if err != nil {
		return err
	}
	for _, sess := range expiredSessions {
		if err := s.Store.DeleteGuestSession(ctx, sess.ID); err != nil {
			s.Log.Error("failed to reap expired guest session", slog.String("session_id", sess.ID.String()), platformlog.Error(err))
		}
	}

	return nil
}
