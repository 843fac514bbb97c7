// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/stashbin/stashbin/pkg/logger"
	"github.com/stashbin/stashbin/pkg/store"
	"github.com/stashbin/stashbin/pkg/types"
	"github.com/stashbin/stashbin/pkg/upload"
)

// totalChunksHeader carries the client's declared chunk total on each chunk
// submission, cross-checked against the session record.
const totalChunksHeader = "X-Total-Chunks"

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func okBody(data any) response {
	return response{Success: true, Data: data}
}

func errorBody(msg string) response {
	return response{Success: false, Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().Err(err).Msg("api: response encoding failed")
	}
}

// writeError maps the service error taxonomy to HTTP statuses. Internal
// errors are logged server-side and surfaced without detail so storage
// paths never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	var ue *upload.Error
	if !errors.As(err, &ue) || ue.Code == upload.ErrCodeInternal {
		logger.Error().Err(err).Msg("api: internal error")
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	status := http.StatusInternalServerError
	switch ue.Code {
	case upload.ErrCodeValidation:
		status = http.StatusBadRequest
	case upload.ErrCodeNotFound:
		status = http.StatusNotFound
	case upload.ErrCodeUpload:
		status = http.StatusConflict
	case upload.ErrCodeConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody(ue.Message))
}

type openRequest struct {
	FileName     string `json:"file_name"`
	DeclaredSize int64  `json:"declared_size"`
	MimeType     string `json:"mime_type"`
	TotalChunks  int    `json:"total_chunks"`
	UploadedBy   string `json:"uploaded_by"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}

	res, err := s.cfg.Service.Open(r.Context(), &upload.OpenRequest{
		FileName:     req.FileName,
		DeclaredSize: req.DeclaredSize,
		MimeType:     req.MimeType,
		TotalChunks:  req.TotalChunks,
		UploadedBy:   req.UploadedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, okBody(res))
}

func (s *Server) handleSubmitChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed chunk index"))
		return
	}
	total, err := strconv.Atoi(r.Header.Get(totalChunksHeader))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing or malformed "+totalChunksHeader+" header"))
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxChunkBytes)
	progress, err := s.cfg.Service.SubmitChunk(r.Context(), &upload.SubmitChunkRequest{
		SessionID:   r.PathValue("id"),
		ChunkIndex:  index,
		TotalChunks: total,
		Body:        body,
	})
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge,
				errorBody(fmt.Sprintf("chunk exceeds %d bytes", s.cfg.MaxChunkBytes)))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(progress))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Service.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	// 202: the merge continues in the background, poll status to observe it.
	writeJSON(w, http.StatusAccepted, okBody(res))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Service.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]string{"status": string(types.StatusCancelled)}))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.cfg.Service.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(view))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Service.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]bool{"deleted": true}))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	res, err := s.cfg.Service.List(r.Context(), &upload.ListRequest{
		Status:    types.SessionStatus(q.Get("status")),
		Page:      page,
		Limit:     limit,
		SortBy:    q.Get("sort_by"),
		SortOrder: store.SortOrder(q.Get("sort_order")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(res))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	dl, err := s.cfg.Service.Download(r.Context(), &upload.DownloadRequest{
		SessionID: r.PathValue("id"),
		Range:     r.Header.Get("Range"),
	})
	if err != nil {
		// An unsatisfiable range on an existing object gets the range
		// status, not a generic 400.
		if r.Header.Get("Range") != "" && upload.CodeOf(err) == upload.ErrCodeValidation {
			w.Header().Set("Content-Range", "bytes */*")
			writeJSON(w, http.StatusRequestedRangeNotSatisfiable, errorBody("unsatisfiable byte range"))
			return
		}
		writeError(w, err)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", dl.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": dl.OriginalName}))

	status := http.StatusOK
	if dl.Partial {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d",
			dl.Offset, dl.Offset+dl.Size-1, dl.TotalSize))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if _, err := io.Copy(w, dl.Body); err != nil {
		logger.Warn().Err(err).
			Str("session_id", r.PathValue("id")).
			Msg("api: download stream interrupted")
	}
}
