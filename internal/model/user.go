// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package model

// UnlimitedTokens is the sentinel TokenLimit value meaning "no quota".
const UnlimitedTokens = -1

// User holds the fields the core pipeline consumes for quota gating
// (spec §3, §4.4 quota gate).
type User struct {
	ID              string            `json:"id"`
	TokenLimit      int64             `json:"tokenLimit"`
	TokensUsed      int64             `json:"tokensUsed"`
	PurchasedTokens int64             `json:"purchasedTokens"`
	APIKeys         map[string]string `json:"apiKeys,omitempty"`
}

// HasOwnKeys reports whether the user supplied at least one provider key,
// bypassing platform quota (spec §4.4).
func (u User) HasOwnKeys() bool {
	return len(u.APIKeys) > 0
}

// Allows reports whether a request estimated to cost estimate tokens is
// permitted under this user's quota (spec §4.4 quota gate).
func (u User) Allows(estimate int64) bool {
	if u.HasOwnKeys() {
		return true
	}
	if u.TokenLimit == UnlimitedTokens {
		return true
	}
	return u.TokensUsed+estimate <= u.TokenLimit+u.PurchasedTokens
}

// Notification is a minimal record surfaced to the (out-of-scope) UI when
// something the user should know about happens out-of-band, e.g. a quota
// failure (spec §7 "Quota exceeded... a notification is produced").
type Notification struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
