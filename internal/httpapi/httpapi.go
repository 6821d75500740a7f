// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi is the HTTP boundary of spec §6: inbound webhook ingest
// and an outbound polling API a UI (out of scope, §1) uses to read
// run/patch-request/file state progressively as the pipeline runs.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/peerci/reviewbot/internal/pipeline"
	"github.com/peerci/reviewbot/internal/store"
)

// EventHeader and SignatureHeader name the inbound webhook headers
// consumed (spec §6 "Headers: event name, delivery id, signature").
const (
	EventHeader     = "X-Webhook-Event"
	SignatureHeader = "X-Hub-Signature-256"
)

// Server wires the webhook endpoint and the read-only polling API onto a
// chi router.
type Server struct {
	Controller    *pipeline.Controller
	Runs          store.PRRunStore
	PatchRequests store.PatchRequestStore
	Secret        []byte
}

// Router builds the full chi mux: request-id/logging middleware, CORS for
// the polling API, and the routes themselves.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	r.Post("/webhook", s.handleWebhook)
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/patch-requests/{id}", s.handleGetPatchRequest)
		r.Get("/patch-requests/{id}/files/*", s.handleGetPatchRequestFile)
	})
	return r
}

// handleWebhook implements spec §6 inbound webhook ingest: verify the
// HMAC signature, dispatch by event kind, and respond 200/401/500 per the
// documented status codes.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := clog.FromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, 5<<20))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error reading body"})
		return
	}

	if err := pipeline.VerifySignature(s.Secret, r.Header.Get(SignatureHeader), body); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "invalid signature"})
		return
	}

	event := r.Header.Get(EventHeader)
	var handleErr error
	switch pipeline.EventKind(event) {
	case pipeline.EventPullRequest:
		var evt pipeline.PullRequestEvent
		evt, handleErr = pipeline.ParsePullRequestEvent(body)
		if handleErr == nil {
			handleErr = s.Controller.OnPullRequest(ctx, evt)
		}
	case pipeline.EventPullRequestReview:
		var evt pipeline.PullRequestReviewEvent
		evt, handleErr = pipeline.ParsePullRequestReviewEvent(body)
		if handleErr == nil {
			handleErr = s.Controller.OnReview(ctx, evt)
		}
	case pipeline.EventInstallation:
		var evt pipeline.InstallationEvent
		evt, handleErr = pipeline.ParseInstallationEvent(body)
		if handleErr == nil {
			handleErr = s.Controller.OnInstallation(ctx, evt)
		}
	default:
		log.Infof("ignoring unrecognized webhook event %q", event)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if handleErr != nil {
		log.Warnf("handling %s webhook: %v", event, handleErr)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.Runs.Get(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetPatchRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pr, err := s.PatchRequests.Get(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// handleGetPatchRequestFile lets a UI poll a single file's preview state
// without re-fetching the whole patch request (spec §2 "so a UI can poll
// partial results").
func (s *Server) handleGetPatchRequestFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	file := chi.URLParam(r, "*")
	pr, err := s.PatchRequests.Get(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	for _, fp := range pr.Preview.Files {
		if fp.File == file {
			writeJSON(w, http.StatusOK, fp)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"status": "file not found in preview"})
}

func writeStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
