package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"vectorize/internal/config"
	"vectorize/internal/embedding"
)

type healthResponse struct {
	Status      string `json:"status"`
	Model       string `json:"model"`
	ModelLoaded bool   `json:"model_loaded"`
}

type embedRequest struct {
	Text      string `json:"text"`
	Normalize *bool  `json:"normalize"`
}

type batchRequest struct {
	Texts     []string `json:"texts"`
	Normalize *bool    `json:"normalize"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
	Dim       int       `json:"dim"`
}

type vectorResponse struct {
	Vector []float32 `json:"vector"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Model:       s.embedder.ModelID(),
		ModelLoaded: s.embedder.Loaded(),
	})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxTextBody())

	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, decodeError(err))
		return
	}
	if err := validateText(req.Text, s.cfg.MaxTextLength); err != nil {
		writeError(w, err)
		return
	}

	vec, err := s.embedder.EmbedOne(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	vec = embedding.Normalize(vec, s.normalize(req.Normalize))

	writeJSON(w, http.StatusOK, s.shape(vec))
}

func (s *Server) handleEmbedBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBatchBody())

	texts, flag, err := decodeBatch(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := validateBatch(texts, s.cfg.MaxTextLength, s.cfg.MaxBatchSize); err != nil {
		writeError(w, err)
		return
	}

	vecs, err := s.embedder.EmbedMany(r.Context(), texts)
	if err != nil {
		writeError(w, err)
		return
	}
	vecs = embedding.NormalizeAll(vecs, s.normalize(flag))

	out := make([]any, len(vecs))
	for i, v := range vecs {
		out[i] = s.shape(v)
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeBatch accepts either {"texts": [...], "normalize": bool} or a bare
// array of strings with normalize as a query parameter.
func decodeBatch(r *http.Request) ([]string, *bool, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, nil, decodeError(err)
	}

	var flag *bool
	if q := r.URL.Query().Get("normalize"); q != "" {
		b, err := strconv.ParseBool(q)
		if err != nil {
			return nil, nil, invalid("Invalid normalize parameter %q", q)
		}
		flag = &b
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		var texts []string
		if err := json.Unmarshal(trimmed, &texts); err != nil {
			return nil, nil, invalid("Invalid JSON body: %v", err)
		}
		return texts, flag, nil
	}

	var req batchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, nil, invalid("Invalid JSON body: %v", err)
	}
	if req.Normalize != nil {
		flag = req.Normalize
	}
	return req.Texts, flag, nil
}

// A rune escaped as a \u surrogate pair takes 12 bytes of JSON, so a body past
// these sizes cannot hold valid input.
const (
	maxEscapedRune = 12
	bodyOverhead   = 1024
)

func (s *Server) maxTextBody() int64 {
	return int64(s.cfg.MaxTextLength)*maxEscapedRune + bodyOverhead
}

func (s *Server) maxBatchBody() int64 {
	perText := int64(s.cfg.MaxTextLength)*maxEscapedRune + 16
	return int64(s.cfg.MaxBatchSize)*perText + bodyOverhead
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return invalid("Request body too large (max %d bytes)", tooLarge.Limit)
	}
	return invalid("Invalid JSON body: %v", err)
}

// normalize resolves the effective flag: always-on deployments ignore the
// caller, otherwise an absent flag means true.
func (s *Server) normalize(flag *bool) bool {
	if s.cfg.Normalize == config.NormalizeAlways || flag == nil {
		return true
	}
	return *flag
}

func (s *Server) shape(vec []float32) any {
	if s.cfg.Response == config.ResponseMinimal {
		return vectorResponse{Vector: vec}
	}
	return embedResponse{
		Embedding: vec,
		Model:     s.embedder.ModelID(),
		Dim:       len(vec),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response failed", "error", err)
	}
}

// writeError maps the error taxonomy to a status code. The message is kept in
// the body so callers can diagnose encode failures.
func writeError(w http.ResponseWriter, err error) {
	var (
		status = http.StatusInternalServerError
		ve     *ValidationError
	)
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, embedding.ErrModelUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, embedding.ErrEncode):
		status = http.StatusInternalServerError
	default:
		err = fmt.Errorf("embedding generation failed: %w", err)
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Detail: err.Error()})
}
