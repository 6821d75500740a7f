// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline wires webhook ingest, the analyzer worker, and the
// autofix worker into the job queues of internal/queue, implementing the
// PR processing state machine end to end.
package pipeline

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrBadSignature is returned when a webhook's signature header is
// missing or does not match the computed HMAC.
var ErrBadSignature = errors.New("missing or invalid webhook signature")

// VerifySignature checks the X-Hub-Signature-256 style header
// ("sha256=<hex>") against an HMAC-SHA256 of body keyed by secret, using a
// constant-time comparison so response timing cannot leak the secret.
func VerifySignature(secret []byte, header string, body []byte) error {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := mac.Sum(nil)
	if !hmac.Equal(got, want) {
		return ErrBadSignature
	}
	return nil
}

// EventKind names the webhook event types the controller dispatches on.
type EventKind string

const (
	EventPullRequest       EventKind = "pull_request"
	EventPullRequestReview EventKind = "pull_request_review"
	EventInstallation      EventKind = "installation"
)

// rawInstallation, rawRepository, rawPullRequest, and rawRef model the
// nested envelope shape the host actually sends (spec §6 "Body: JSON.
// Fields consumed: installation.id, repository.full_name,
// pull_request.number, pull_request.head.sha, pull_request.head.ref,
// pull_request.base.sha, review.state. All other fields ignored."). Per
// spec §9 DESIGN NOTES ("never propagate untyped maps beyond the boundary
// parser"), every other field in the real payload is simply absent from
// these structs rather than decoded into a map.
type rawInstallation struct {
	ID int64 `json:"id" validate:"required"`
}

type rawRepository struct {
	FullName string `json:"full_name" validate:"required"`
}

type rawRef struct {
	SHA string `json:"sha"`
	Ref string `json:"ref"`
}

type rawPullRequest struct {
	Number int    `json:"number" validate:"required"`
	Head   rawRef `json:"head" validate:"required"`
	Base   rawRef `json:"base"`
}

type rawReview struct {
	State string `json:"state"`
}

// PullRequestEvent is the subset of a pull_request webhook payload the
// pipeline consumes (spec §4.6, §9 "only fields consumed are documented").
type PullRequestEvent struct {
	Action         string `json:"action" validate:"required"`
	InstallationID int64  `json:"installation_id"`
	Repo           string `json:"repo" validate:"required"`
	PRNumber       int    `json:"prNumber" validate:"required"`
	SHA            string `json:"sha" validate:"required"`
	BaseSHA        string `json:"baseSha"`
	HeadRef        string `json:"headRef"`
}

// IsAutofixBranch reports whether this event's head ref is one the autofix
// engine created, per spec §4.6 "not originating from peer/autofix/*
// branches".
func (e PullRequestEvent) IsAutofixBranch() bool {
	_, ok := ParseAutofixBranch(e.HeadRef)
	return ok
}

// autofixBranchPrefix is the branch namespace internal/autofix.Apply
// creates fix branches under: "peer/autofix/<runId>-<unixTimestamp>".
const autofixBranchPrefix = "peer/autofix/"

// ParseAutofixBranch extracts the originating run ID from an autofix
// branch name, so a review webhook's headRef can be mapped back to the
// PatchRequest that created it without the payload carrying an explicit
// patchRequestId (spec §4.6 review dispatch rule).
func ParseAutofixBranch(headRef string) (runID string, ok bool) {
	if !strings.HasPrefix(headRef, autofixBranchPrefix) {
		return "", false
	}
	suffix := strings.TrimPrefix(headRef, autofixBranchPrefix)
	idx := strings.LastIndex(suffix, "-")
	if idx <= 0 || idx == len(suffix)-1 {
		return "", false
	}
	return suffix[:idx], true
}

// PullRequestReviewEvent is the subset of a pull_request_review payload
// consumed for the auto-merge trigger.
type PullRequestReviewEvent struct {
	State          string `json:"state"`
	InstallationID int64  `json:"installation_id"`
	Repo           string `json:"repo" validate:"required"`
	PRNumber       int    `json:"prNumber" validate:"required"`
	SHA            string `json:"sha"`
	HeadRef        string `json:"headRef"`
}

// InstallationEvent is the subset of an installation lifecycle payload
// consumed to keep the Installation record current.
type InstallationEvent struct {
	Action         string `json:"action"`
	InstallationID int64  `json:"installation_id" validate:"required"`
	Owner          string `json:"owner"`
}

// pullRequestEnvelope is the nested wire shape of a pull_request webhook
// delivery, as the host actually sends it.
type pullRequestEnvelope struct {
	Action         string          `json:"action" validate:"required"`
	Installation   rawInstallation `json:"installation" validate:"required"`
	Repository     rawRepository   `json:"repository" validate:"required"`
	PullRequest    rawPullRequest  `json:"pull_request" validate:"required"`
}

// pullRequestReviewEnvelope is the nested wire shape of a
// pull_request_review delivery.
type pullRequestReviewEnvelope struct {
	Action         string          `json:"action"`
	Review         rawReview       `json:"review" validate:"required"`
	Installation   rawInstallation `json:"installation" validate:"required"`
	Repository     rawRepository   `json:"repository" validate:"required"`
	PullRequest    rawPullRequest  `json:"pull_request" validate:"required"`
}

// installationEnvelope is the nested wire shape of an installation
// lifecycle delivery.
type installationEnvelope struct {
	Action       string `json:"action"`
	Installation struct {
		ID      int64  `json:"id" validate:"required"`
		Account struct {
			Login string `json:"login"`
		} `json:"account"`
	} `json:"installation" validate:"required"`
}

// ParsePullRequestEvent decodes and validates a pull_request webhook body
// against the nested envelope, then flattens it into the fields the
// pipeline consumes (spec §6, §9 "a parsed, validated envelope").
func ParsePullRequestEvent(body []byte) (PullRequestEvent, error) {
	var env pullRequestEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return PullRequestEvent{}, fmt.Errorf("decoding pull_request event: %w", err)
	}
	if err := validate.Struct(env); err != nil {
		return PullRequestEvent{}, fmt.Errorf("validating pull_request event: %w", err)
	}
	return PullRequestEvent{
		Action:         env.Action,
		InstallationID: env.Installation.ID,
		Repo:           env.Repository.FullName,
		PRNumber:       env.PullRequest.Number,
		SHA:            env.PullRequest.Head.SHA,
		BaseSHA:        env.PullRequest.Base.SHA,
		HeadRef:        env.PullRequest.Head.Ref,
	}, nil
}

// ParsePullRequestReviewEvent decodes and validates a pull_request_review
// webhook body against the nested envelope.
func ParsePullRequestReviewEvent(body []byte) (PullRequestReviewEvent, error) {
	var env pullRequestReviewEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return PullRequestReviewEvent{}, fmt.Errorf("decoding pull_request_review event: %w", err)
	}
	if err := validate.Struct(env); err != nil {
		return PullRequestReviewEvent{}, fmt.Errorf("validating pull_request_review event: %w", err)
	}
	return PullRequestReviewEvent{
		State:          env.Review.State,
		InstallationID: env.Installation.ID,
		Repo:           env.Repository.FullName,
		PRNumber:       env.PullRequest.Number,
		SHA:            env.PullRequest.Head.SHA,
		HeadRef:        env.PullRequest.Head.Ref,
	}, nil
}

// ParseInstallationEvent decodes and validates an installation lifecycle
// webhook body against the nested envelope.
func ParseInstallationEvent(body []byte) (InstallationEvent, error) {
	var env installationEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return InstallationEvent{}, fmt.Errorf("decoding installation event: %w", err)
	}
	if err := validate.Struct(env); err != nil {
		return InstallationEvent{}, fmt.Errorf("validating installation event: %w", err)
	}
	return InstallationEvent{
		Action:         env.Action,
		InstallationID: env.Installation.ID,
		Owner:          env.Installation.Account.Login,
	}, nil
}
