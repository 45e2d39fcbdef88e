package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-assess/internal/capability"
	"github.com/loqalabs/loqa-assess/internal/pronunciation"
	"github.com/loqalabs/loqa-assess/internal/protocol"
	"github.com/loqalabs/loqa-assess/internal/stt"
)

const maxRequestBody = 1 << 20

func (r *Runtime) routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("POST /v1/assessment/config", r.handleAssessmentConfig)
	mux.HandleFunc("POST /v1/assessment/result", r.handleAssessmentResult)
	mux.HandleFunc("GET /v1/sessions/{id}/assessments", r.handleSessionAssessments)
	mux.HandleFunc("GET /v1/nodes", r.handleNodes)
	return mux
}

// handleAssessmentConfig validates a request document and answers with its
// canonical form.
func (r *Runtime) handleAssessmentConfig(w http.ResponseWriter, req *http.Request) {
	body, ok := readBody(w, req)
	if !ok {
		return
	}
	cfg, err := pronunciation.ConfigFromJSON(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleAssessmentResult decodes a detailed recognition result, the document
// an engine stores under RESULT-Json, into its score tree.
func (r *Runtime) handleAssessmentResult(w http.ResponseWriter, req *http.Request) {
	body, ok := readBody(w, req)
	if !ok {
		return
	}
	props := stt.NewProperties()
	if err := props.Set(stt.PropertyJSONResult, string(body)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	result, err := pronunciation.FromRecognitionResult(stt.RecognitionResult{Properties: props})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, pronunciation.ErrMissingPayload):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func (r *Runtime) handleSessionAssessments(w http.ResponseWriter, req *http.Request) {
	if r.events == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event store not available"))
		return
	}
	events, err := r.events.ListSessionEventsByType(req.Context(), req.PathValue("id"), protocol.EventTypeAssessmentReport, 0)
	if err != nil {
		r.logger.Error("list assessments failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	reports := make([]protocol.AssessmentReport, 0, len(events))
	for _, evt := range events {
		var report protocol.AssessmentReport
		if err := json.Unmarshal(evt.Payload, &report); err != nil {
			r.logger.Warn("skipping unreadable assessment event", slog.Int64("event_id", evt.ID))
			continue
		}
		reports = append(reports, report)
	}
	writeJSON(w, http.StatusOK, reports)
}

// handleNodes lists known assessment nodes. Query parameters granularity,
// language and healthy narrow the result.
func (r *Runtime) handleNodes(w http.ResponseWriter, req *http.Request) {
	if r.registry == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("capability registry not available"))
		return
	}
	query := req.URL.Query()
	filters := []func(capability.NodeInfo) bool{capability.WithCapabilityFilter(capability.NameAssessment)}
	if name := query.Get("granularity"); name != "" {
		g, err := pronunciation.ParseGranularity(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filters = append(filters, capability.WithGranularityFilter(g))
	}
	if language := query.Get("language"); language != "" {
		filters = append(filters, capability.WithLanguageFilter(language))
	}
	if raw := query.Get("healthy"); raw != "" {
		healthy, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if healthy {
			filters = append(filters, capability.HealthyOnly)
		}
	}
	writeJSON(w, http.StatusOK, r.registry.Query(filters...))
}

func readBody(w http.ResponseWriter, req *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
		} else {
			writeError(w, http.StatusBadRequest, err)
		}
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
