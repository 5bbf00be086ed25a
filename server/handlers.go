package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Alirezaa02/webvis-oakd-dashboard/errors"
	"github.com/Alirezaa02/webvis-oakd-dashboard/event"
	"github.com/Alirezaa02/webvis-oakd-dashboard/pkg/timestamp"
)

// errorBody is the JSON error envelope. Fields is present only on
// validation failures.
type errorBody struct {
	Error  string             `json:"error"`
	Fields []event.FieldError `json:"fields,omitempty"`
}

func (s *Server) handleIngest(variant event.Variant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed json body"})
			return
		}

		ack, err := s.deps.Ingestor.Ingest(r.Context(), variant, raw, bearerToken(r))
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, ack)
	}
}

func (s *Server) handleLatest(variant event.Variant) http.HandlerFunc {
	ceiling := s.latestCap(variant)
	return func(w http.ResponseWriter, r *http.Request) {
		// History reads carry the same credential as ingestion.
		if _, err := s.deps.Authorizer.Authorize(r.Context(), bearerToken(r)); err != nil {
			s.writeError(w, err)
			return
		}

		limit := ceiling
		if q := r.URL.Query().Get("limit"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
				return
			}
			if n < limit {
				limit = n
			}
		}

		events, err := s.deps.Store.Latest(r.Context(), variant, limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	agg := s.deps.Health.Aggregate("webvisd")
	status := http.StatusOK
	if !agg.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":     agg.Status,
		"now":        timestamp.Now(),
		"wsClients":  s.deps.Bus.SubscriberCount(),
		"components": agg.SubStatuses,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed json body"})
		return
	}

	token, err := s.deps.Login.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// writeError maps pipeline errors onto HTTP statuses: validation details go
// back verbatim (caller-fixable), authorization failures are opaque,
// transient store trouble is 503, everything else 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *event.ValidationError
	switch {
	case stderrors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: verr.Fields})
	case stderrors.Is(err, errors.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	case errors.IsTransient(err):
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "storage temporarily unavailable"})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (s *Server) latestCap(variant event.Variant) int {
	switch variant {
	case event.VariantSensor:
		return s.cfg.LatestLimits.Sensor
	case event.VariantPose:
		return s.cfg.LatestLimits.Pose
	case event.VariantDetection:
		return s.cfg.LatestLimits.Detection
	default:
		return s.cfg.LatestLimits.Log
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
