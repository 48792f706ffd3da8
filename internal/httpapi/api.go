package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"webcaf.uk/internal/assessment"
	"webcaf.uk/internal/audit"
	"webcaf.uk/internal/framework"
	"webcaf.uk/internal/notify"
	"webcaf.uk/internal/obs"
)

// ReadyProbe checks readiness (a DB ping when a handle is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the assessment service.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	svc        assessment.Service
	notifier   notify.Sender

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, svc assessment.Service, notifier notify.Sender) *API {
	if notifier == nil {
		notifier = notify.LogSender{}
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		notifier:   notifier,
		rateBurst:  40,
		ratePerSec: 20,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/organisations", a.handleOrganisationsCollection)
	a.mux.HandleFunc("/v1/organisations/", a.handleOrganisationResource)
	a.mux.HandleFunc("/v1/systems", a.handleSystemsCollection)
	a.mux.HandleFunc("/v1/systems/", a.handleSystemResource)
	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/config/", a.handleConfigResource)
	a.mux.HandleFunc("/v1/assessments", a.handleAssessmentsCollection)
	a.mux.HandleFunc("/v1/assessments/", a.handleAssessmentResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service-independent handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "webcaf-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	frameworks, _ := framework.IDs()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       "webcaf-api",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"version":    a.version,
		"frameworks": frameworks,
	})
}

// --- helpers ---

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, fields map[string]any) {
	merged := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	for k, v := range fields {
		merged[k] = v
	}
	_ = audit.LogEvent(ctx, event, merged)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleServiceError maps domain errors onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, assessment.ErrInvalidInput),
		errors.Is(err, assessment.ErrInvalidFrameworkKey),
		errors.Is(err, framework.ErrUnknownFramework),
		errors.Is(err, framework.ErrUnknownProfile):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, assessment.ErrNotFound),
		errors.Is(err, assessment.ErrConfigurationNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, assessment.ErrDuplicateAssessment),
		errors.Is(err, assessment.ErrImmutableAssessment),
		errors.Is(err, assessment.ErrIncompleteAssessment),
		errors.Is(err, assessment.ErrInvalidTransition),
		errors.Is(err, assessment.ErrEntityCascade):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, assessment.ErrMalformedDate):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
