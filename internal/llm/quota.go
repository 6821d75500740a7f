// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"fmt"

	"github.com/peerci/reviewbot/internal/model"
)

// ErrQuotaExceeded is returned by Gate when a request would exceed the
// user's remaining token budget (spec §4.4 quota gate, §7 "Quota
// exceeded... a notification is produced").
type ErrQuotaExceeded struct {
	UserID   string
	Estimate int64
}

func (e ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("user %s: quota exceeded for estimated %d tokens", e.UserID, e.Estimate)
}

// Gate checks whether user may spend estimate tokens before a request is
// dispatched, returning ErrQuotaExceeded when not (spec §4.4).
func Gate(user model.User, estimate int64) error {
	if !user.Allows(estimate) {
		return ErrQuotaExceeded{UserID: user.ID, Estimate: estimate}
	}
	return nil
}

// EstimateTokens provides a crude token estimate (4 characters per token)
// for a prompt, good enough for quota pre-checks without a tokenizer
// dependency (spec §4.4 does not mandate an exact estimator).
func EstimateTokens(system, user string) int64 {
	return int64((len(system) + len(user)) / 4)
}
