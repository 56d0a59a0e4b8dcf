package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

const (
	headerTimestamp   = "X-Redirect-Timestamp"
	headerSignature   = "X-Redirect-Signature"
	headerCorrelation = "X-Correlation-Id"
)

const publishSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["targetWorkspace", "sourceWorkspace", "nodes"],
  "properties": {
    "sourceWorkspace": {"type": "string", "minLength": 1},
    "targetWorkspace": {"type": "string", "minLength": 1},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["identifier"],
        "properties": {
          "identifier": {"type": "string", "minLength": 1},
          "dimensions": {
            "type": "object",
            "additionalProperties": {"type": "array", "items": {"type": "string"}}
          }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

type ServerConfig struct {
	JWTSecret          string
	InternalHMACSecret string
	InternalMaxSkew    time.Duration
	MaxBodyBytes       int64
}

// Publisher moves one node variant from one workspace to another.
type Publisher interface {
	Publish(ctx context.Context, identifier string, dimensions redirect.Dimensions, from, to string) error
}

type Dependencies struct {
	Service   *redirect.Service
	Nodes     redirect.NodeLookup
	Publisher Publisher
	Store     redirect.RedirectStore
	Logger    *logrus.Logger
}

type Server struct {
	service            *redirect.Service
	nodes              redirect.NodeLookup
	publisher          Publisher
	store              redirect.RedirectStore
	cfg                ServerConfig
	log                *logrus.Logger
	publishSchema      *jsonschema.Schema
	publishMu          sync.Mutex
	internalReplayMu   sync.Mutex
	internalReplaySeen map[string]time.Time
	now                func() time.Time
}

type PublishNode struct {
	Identifier string              `json:"identifier"`
	Dimensions redirect.Dimensions `json:"dimensions,omitempty"`
}

type PublishRequest struct {
	SourceWorkspace string        `json:"sourceWorkspace"`
	TargetWorkspace string        `json:"targetWorkspace"`
	Nodes           []PublishNode `json:"nodes"`
}

type PublishResponse struct {
	CorrelationID string                `json:"correlationId"`
	Published     int                   `json:"published"`
	Commit        redirect.CommitReport `json:"commit"`
	Errors        map[string]string     `json:"errors,omitempty"`
}

type redirectLister interface {
	All(ctx context.Context) ([]redirect.Redirect, error)
}

func NewServer(deps Dependencies, cfg ServerConfig) (*Server, error) {
	if deps.Service == nil || deps.Nodes == nil || deps.Publisher == nil || deps.Store == nil {
		return nil, fmt.Errorf("%w: service, node lookup, publisher and store are required", redirect.ErrInvalidInput)
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.InternalHMACSecret == "" {
		cfg.InternalHMACSecret = "dev-internal-secret"
	}
	if cfg.InternalMaxSkew == 0 {
		cfg.InternalMaxSkew = 5 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	schema, err := compilePublishSchema()
	if err != nil {
		return nil, err
	}
	return &Server{
		service:            deps.Service,
		nodes:              deps.Nodes,
		publisher:          deps.Publisher,
		store:              deps.Store,
		cfg:                cfg,
		log:                deps.Logger,
		publishSchema:      schema,
		internalReplaySeen: map[string]time.Time{},
		now:                time.Now,
	}, nil
}

func compilePublishSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(publishSchema))
	if err != nil {
		return nil, fmt.Errorf("parse publish schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("publish.json", doc); err != nil {
		return nil, fmt.Errorf("add publish schema: %w", err)
	}
	schema, err := c.Compile("publish.json")
	if err != nil {
		return nil, fmt.Errorf("compile publish schema: %w", err)
	}
	return schema, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/v1/internal/publish" && r.Method == http.MethodPost:
		s.handlePublish(w, r)
	case r.URL.Path == "/v1/internal/generate" && r.Method == http.MethodPost:
		s.handleGenerate(w, r)
	case r.URL.Path == "/v1/redirects" && r.Method == http.MethodGet:
		s.handleRedirects(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	}
}

// authorizeInternal reads the body and checks signature and replay guard.
func (s *Server) authorizeInternal(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return "", nil, false
	}
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return "", nil, false
	}
	now := s.now().UTC()
	timestamp := r.Header.Get(headerTimestamp)
	signature := r.Header.Get(headerSignature)
	if authErr := verifyInternalHMAC(s.cfg.InternalHMACSecret, timestamp, signature, body, now, s.cfg.InternalMaxSkew); authErr != nil {
		s.log.WithFields(logrus.Fields{"correlationId": correlationID, "path": r.URL.Path}).Warn(authErr.message)
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return "", nil, false
	}
	if !s.markInternalReplaySeen(timestamp, signature, now) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "internal request replay detected", correlationID)
		return "", nil, false
	}
	return correlationID, body, true
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	correlationID, body, ok := s.authorizeInternal(w, r)
	if !ok {
		return
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	if err := s.publishSchema.Validate(instance); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid publish request: "+err.Error(), correlationID)
		return
	}
	var req PublishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}

	entry := s.log.WithFields(logrus.Fields{
		"correlationId":   correlationID,
		"sourceWorkspace": req.SourceWorkspace,
		"targetWorkspace": req.TargetWorkspace,
	})
	ctx := r.Context()

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	resp := PublishResponse{CorrelationID: correlationID}
	failures := map[string]string{}
	collector := s.service.NewCollector()
	for _, item := range req.Nodes {
		key := item.Identifier
		if dims := item.Dimensions.Key(); dims != "" {
			key += "@" + dims
		}
		node, err := s.nodes.ByIdentifier(ctx, item.Identifier, req.SourceWorkspace, item.Dimensions)
		if err != nil {
			failures[key] = err.Error()
			entry.WithError(err).WithField("node", key).Warn("publish: node lookup failed")
			continue
		}
		if err := collector.Collect(ctx, node, req.TargetWorkspace); err != nil {
			failures[key] = err.Error()
			entry.WithError(err).WithField("node", key).Warn("publish: capturing redirect state failed")
			continue
		}
		if err := s.publisher.Publish(ctx, node.Identifier(), node.Dimensions(), req.SourceWorkspace, req.TargetWorkspace); err != nil {
			failures[key] = err.Error()
			entry.WithError(err).WithField("node", key).Warn("publish failed")
			continue
		}
		resp.Published++
	}

	report, err := collector.CommitAll(ctx)
	if err != nil {
		entry.WithError(err).Warn("publish: redirect reconciliation incomplete")
	}
	resp.Commit = report
	if len(failures) > 0 {
		resp.Errors = failures
	}
	entry.WithFields(logrus.Fields{
		"published": resp.Published,
		"changed":   report.Changed,
		"failed":    report.Failed + len(failures),
	}).Info("publish processed")
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	correlationID, _, ok := s.authorizeInternal(w, r)
	if !ok {
		return
	}
	report, err := s.service.GenerateAll(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusServiceUnavailable, "canceled", err.Error(), correlationID)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRedirects(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if _, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, scopeRedirectsRead, s.now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	query := r.URL.Query()
	source := strings.TrimSpace(query.Get("source"))
	target := strings.TrimSpace(query.Get("target"))
	ctx := r.Context()

	switch {
	case source != "" && target != "":
		writeError(w, http.StatusBadRequest, "bad_request", "source and target are mutually exclusive", correlationID)
	case source != "":
		normalized := redirect.NormalizePaths(source)
		if len(normalized) != 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "source must be a single path", correlationID)
			return
		}
		found, err := s.store.Lookup(ctx, normalized[0], strings.ToLower(query.Get("host")))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
			return
		}
		if found == nil {
			writeError(w, http.StatusNotFound, "not_found", "redirect not found", correlationID)
			return
		}
		writeJSON(w, http.StatusOK, found)
	case target != "":
		found, err := s.store.FindByTarget(ctx, target)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"redirects": nonNil(found)})
	default:
		lister, ok := s.store.(redirectLister)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "source or target query parameter is required", correlationID)
			return
		}
		all, err := lister.All(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"redirects": nonNil(all)})
	}
}

func nonNil(in []redirect.Redirect) []redirect.Redirect {
	if in == nil {
		return []redirect.Redirect{}
	}
	return in
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get(headerCorrelation)
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (s *Server) markInternalReplaySeen(timestamp, signature string, now time.Time) bool {
	key := strings.TrimSpace(strings.ToLower(timestamp)) + "|" + strings.TrimSpace(strings.ToLower(signature))
	if key == "|" {
		return false
	}
	window := s.cfg.InternalMaxSkew
	if window <= 0 {
		window = 5 * time.Minute
	}
	s.internalReplayMu.Lock()
	defer s.internalReplayMu.Unlock()
	for replayKey, expiresAt := range s.internalReplaySeen {
		if !now.Before(expiresAt) {
			delete(s.internalReplaySeen, replayKey)
		}
	}
	if expiresAt, exists := s.internalReplaySeen[key]; exists && now.Before(expiresAt) {
		return false
	}
	s.internalReplaySeen[key] = now.Add(window)
	return true
}
