package httpapi

import (
	"net/http"
	"strings"

	"webcaf.uk/internal/assessment"
	"webcaf.uk/internal/auth"
	"webcaf.uk/internal/history"
	"webcaf.uk/internal/notify"
)

func (a *API) handleAssessmentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		systemID := strings.TrimSpace(r.URL.Query().Get("system_id"))
		list, err := a.svc.ListAssessments(r.Context(), systemID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assessments": list})
	case http.MethodPost:
		var in assessment.NewAssessment
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		created, err := a.svc.CreateAssessment(r.Context(), in)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r.Context(), "assessment.created", assessment.EntityAssessment, created.ID, map[string]any{
			"system_id": created.SystemID,
			"framework": created.Framework,
			"period":    created.Period,
		})
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAssessmentResource(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := splitResource(r.URL.Path, "/v1/assessments/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	switch rest {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		rec, err := a.svc.GetAssessment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case "answers":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		var partial map[string]any
		if err := decodeJSON(w, r, &partial); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		rec, err := a.svc.SaveAnswers(r.Context(), id, partial)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r.Context(), "assessment.answers_saved", assessment.EntityAssessment, id, nil)
		writeJSON(w, http.StatusOK, rec)
	case "submit":
		a.transition(w, r, id, "submit")
	case "complete":
		a.transition(w, r, id, "complete")
	case "cancel":
		a.transition(w, r, id, "cancel")
	case "history":
		a.serveHistory(w, r, assessment.EntityAssessment, id)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var (
		rec   assessment.Assessment
		err   error
		event string
	)
	switch action {
	case "submit":
		rec, err = a.svc.SubmitAssessment(r.Context(), id)
		event = "assessment.submitted"
	case "complete":
		rec, err = a.svc.CompleteAssessment(r.Context(), id)
		event = "assessment.completed"
	case "cancel":
		rec, err = a.svc.CancelAssessment(r.Context(), id)
		event = "assessment.cancelled"
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), event, assessment.EntityAssessment, id, map[string]any{
		"status": rec.Status,
	})
	if action == "submit" {
		a.notifySubmitted(r, rec)
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) notifySubmitted(r *http.Request, rec assessment.Assessment) {
	email, _ := auth.EmailFromContext(r.Context())
	_ = a.notifier.Send(r.Context(), notify.Message{
		To:      email,
		Subject: "Assessment " + rec.Reference + " submitted",
		Body:    "Assessment " + rec.Reference + " for period " + rec.Period + " has been submitted for review.",
	})
}

// serveHistory returns the raw snapshots, or rendered diffs when ?diff=1.
func (a *API) serveHistory(w http.ResponseWriter, r *http.Request, entityType, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	snaps, err := a.svc.History(r.Context(), entityType, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if r.URL.Query().Get("diff") == "1" {
		changes, err := history.Changes(snaps)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": snaps})
}
