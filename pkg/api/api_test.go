// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashbin/stashbin/pkg/admission"
	"github.com/stashbin/stashbin/pkg/blob"
	"github.com/stashbin/stashbin/pkg/merge"
	"github.com/stashbin/stashbin/pkg/staging"
	"github.com/stashbin/stashbin/pkg/store/memory"
	"github.com/stashbin/stashbin/pkg/taskqueue"
	"github.com/stashbin/stashbin/pkg/types"
	"github.com/stashbin/stashbin/pkg/upload"
)

type testServer struct {
	http   *httptest.Server
	queue  *taskqueue.MemoryQueue
	merger *merge.Handler
}

func newTestServer(t *testing.T, ctrl admission.Controller) *testServer {
	t.Helper()

	st := memory.New()
	stg, err := staging.New(t.TempDir())
	require.NoError(t, err)
	blobs := blob.NewMemory()
	queue := taskqueue.NewMemoryQueue()

	svc := upload.NewService(upload.Config{
		Store:      st,
		Staging:    stg,
		Blobs:      blobs,
		Queue:      queue,
		SessionTTL: time.Hour,
	})

	srv := NewServer(Config{
		Service:   svc,
		Admission: ctrl,
	})

	ts := &testServer{
		http:   httptest.NewServer(srv.Handler()),
		queue:  queue,
		merger: merge.NewHandler(merge.NewEngine(st, stg, blobs)),
	}
	t.Cleanup(ts.http.Close)
	return ts
}

func (ts *testServer) runMerges(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	for {
		task, err := ts.queue.Dequeue(ctx, "test-worker", taskqueue.TaskTypeMerge)
		require.NoError(t, err)
		if task == nil {
			return
		}
		require.NoError(t, ts.merger.Handle(ctx, task))
		require.NoError(t, ts.queue.Complete(ctx, task.ID))
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, ts.http.URL+path, body)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success, "error: %s", envelope.Error)

	var v T
	require.NoError(t, json.Unmarshal(envelope.Data, &v))
	return v
}

func (ts *testServer) open(t *testing.T, totalChunks int, size int64) string {
	t.Helper()

	body, _ := json.Marshal(map[string]any{
		"file_name":     "photo.jpg",
		"declared_size": size,
		"mime_type":     "image/jpeg",
		"total_chunks":  totalChunks,
	})
	resp := ts.do(t, http.MethodPost, "/api/v1/uploads", bytes.NewReader(body), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	res := decodeData[upload.OpenResult](t, resp)
	return res.SessionID
}

func (ts *testServer) submit(t *testing.T, id string, index, total int, data []byte) *http.Response {
	t.Helper()

	return ts.do(t, http.MethodPut,
		fmt.Sprintf("/api/v1/uploads/%s/chunks/%d", id, index),
		bytes.NewReader(data),
		map[string]string{totalChunksHeader: fmt.Sprint(total)})
}

func TestUploadLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	id := ts.open(t, 2, 8)

	resp := ts.submit(t, id, 0, 2, []byte("aaaa"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	progress := decodeData[upload.Progress](t, resp)
	assert.Equal(t, 1, progress.UploadedChunks)

	resp = ts.submit(t, id, 1, 2, []byte("bbbb"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	progress = decodeData[upload.Progress](t, resp)
	assert.Equal(t, 2, progress.UploadedChunks)

	resp = ts.do(t, http.MethodPost, "/api/v1/uploads/"+id+"/complete", nil, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	completeRes := decodeData[upload.CompleteResult](t, resp)
	assert.Equal(t, types.StatusProcessing, completeRes.Status)

	ts.runMerges(t)

	resp = ts.do(t, http.MethodGet, "/api/v1/uploads/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decodeData[upload.SessionView](t, resp)
	assert.Equal(t, types.StatusCompleted, view.Status)

	resp = ts.do(t, http.MethodGet, "/api/v1/uploads/"+id+"/download", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "photo.jpg")

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "aaaabbbb", string(data))
}

func TestDownloadRangeOverHTTP(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	id := ts.open(t, 1, 10)
	resp := ts.submit(t, id, 0, 1, []byte("0123456789"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/api/v1/uploads/"+id+"/complete", nil, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	ts.runMerges(t)

	resp = ts.do(t, http.MethodGet, "/api/v1/uploads/"+id+"/download", nil,
		map[string]string{"Range": "bytes=3-6"})
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 3-6/10", resp.Header.Get("Content-Range"))

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "3456", string(data))

	resp = ts.do(t, http.MethodGet, "/api/v1/uploads/"+id+"/download", nil,
		map[string]string{"Range": "bytes=50-"})
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	resp.Body.Close()
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)

	// Unknown session.
	resp := ts.do(t, http.MethodGet, "/api/v1/uploads/"+types.NewSessionID(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Malformed id.
	resp = ts.do(t, http.MethodGet, "/api/v1/uploads/not-an-id", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Invalid open payload.
	resp = ts.do(t, http.MethodPost, "/api/v1/uploads", bytes.NewReader([]byte("{")), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Premature complete is a domain-rule violation.
	id := ts.open(t, 2, 8)
	r := ts.submit(t, id, 0, 2, []byte("aaaa"))
	r.Body.Close()
	resp = ts.do(t, http.MethodPost, "/api/v1/uploads/"+id+"/complete", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Missing chunk-total header.
	resp = ts.do(t, http.MethodPut, "/api/v1/uploads/"+id+"/chunks/1",
		bytes.NewReader([]byte("bbbb")), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAdmissionThrottles(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, admission.NewLocal(0.01, 2))

	for i := 0; i < 2; i++ {
		resp := ts.do(t, http.MethodGet, "/api/v1/uploads", nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp := ts.do(t, http.MethodGet, "/api/v1/uploads", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()

	// A different caller is admitted.
	resp = ts.do(t, http.MethodGet, "/api/v1/uploads", nil,
		map[string]string{"X-Forwarded-For": "203.0.113.9"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRequestMetricLabelsNumericStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "404"))

	resp := ts.do(t, http.MethodGet, "/api/v1/uploads/"+types.NewSessionID(), nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	after := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "404"))
	assert.GreaterOrEqual(t, after-before, float64(1))
}
