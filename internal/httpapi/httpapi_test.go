// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerci/reviewbot/internal/httpapi"
	"github.com/peerci/reviewbot/internal/model"
	"github.com/peerci/reviewbot/internal/pipeline"
	"github.com/peerci/reviewbot/internal/queue"
	"github.com/peerci/reviewbot/internal/store"
)

var secret = []byte("test-secret")

func sign(body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(db *store.Memory, kv queue.KVStore) *httpapi.Server {
	return &httpapi.Server{
		Controller:    &pipeline.Controller{Runs: db.PRRuns(), PatchRequests: db.PatchRequests(), Installations: db.Installations(), Queue: kv},
		Runs:          db.PRRuns(),
		PatchRequests: db.PatchRequests(),
		Secret:        secret,
	}
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	db := store.NewMemory()
	srv := newTestServer(db, queue.NewMemoryKVStore())

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(httpapi.SignatureHeader, "sha256=deadbeef")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhook_PullRequestOpenedEnqueuesAnalyze(t *testing.T) {
	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()
	require.NoError(t, db.Installations().Upsert(context.Background(), model.Installation{ID: "inst-1", ExternalID: 42}))
	srv := newTestServer(db, kv)

	body := []byte(`{
		"action": "opened",
		"installation": {"id": 42},
		"repository": {"full_name": "acme/widgets"},
		"pull_request": {"number": 7, "head": {"sha": "abc", "ref": "feature"}, "base": {"sha": "def"}}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(httpapi.SignatureHeader, sign(body))
	req.Header.Set(httpapi.EventHeader, "pull_request")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	_, ok, err := kv.Dequeue(context.Background(), queue.Analyze, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandleWebhook_UnrecognizedEventIsIgnored(t *testing.T) {
	db := store.NewMemory()
	srv := newTestServer(db, queue.NewMemoryKVStore())

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(httpapi.SignatureHeader, sign(body))
	req.Header.Set(httpapi.EventHeader, "ping")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetRun(t *testing.T) {
	db := store.NewMemory()
	srv := newTestServer(db, queue.NewMemoryKVStore())

	run := model.NewPRRun("run-1", model.PRRunKey{Repo: "acme/widgets", PRNumber: 1, SHA: "abc"}, 1, "base", "feature", time.Now())
	require.NoError(t, db.PRRuns().Create(context.Background(), run))

	req := httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/runs/does-not-exist", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetPatchRequestFile(t *testing.T) {
	db := store.NewMemory()
	srv := newTestServer(db, queue.NewMemoryKVStore())

	pr := model.NewPatchRequest("pr-1", "run-1", "acme/widgets", 1, "abc", "", nil, 1, time.Now())
	pr = pr.UpsertFilePreview(model.FilePreview{File: "src/a.go", Ready: true}, time.Now())
	require.NoError(t, db.PatchRequests().Create(context.Background(), pr))

	req := httptest.NewRequest(http.MethodGet, "/api/patch-requests/pr-1/files/src/a.go", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/patch-requests/pr-1/files/src/missing.go", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
