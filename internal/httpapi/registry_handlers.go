package httpapi

import (
	"net/http"
	"strings"

	"webcaf.uk/internal/assessment"
)

// --- organisations ---

func (a *API) handleOrganisationsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
			org, err := a.svc.FindOrganisationByName(r.Context(), name)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, org)
			return
		}
		orgs, err := a.svc.ListOrganisations(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"organisations": orgs})
	case http.MethodPost:
		var org assessment.Organisation
		if err := decodeJSON(w, r, &org); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.svc.CreateOrganisation(r.Context(), &org); err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r.Context(), "organisation.created", assessment.EntityOrganisation, org.ID, map[string]any{
			"name": org.Name,
		})
		writeJSON(w, http.StatusCreated, org)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrganisationResource(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := splitResource(r.URL.Path, "/v1/organisations/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			org, err := a.svc.GetOrganisation(r.Context(), id)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, org)
		case http.MethodPatch:
			var org assessment.Organisation
			if err := decodeJSON(w, r, &org); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			org.ID = id
			if err := a.svc.UpdateOrganisation(r.Context(), &org); err != nil {
				handleServiceError(w, r, err)
				return
			}
			a.audit(r.Context(), "organisation.updated", assessment.EntityOrganisation, id, nil)
			writeJSON(w, http.StatusOK, org)
		case http.MethodDelete:
			if err := a.svc.DeleteOrganisation(r.Context(), id); err != nil {
				handleServiceError(w, r, err)
				return
			}
			a.audit(r.Context(), "organisation.deleted", assessment.EntityOrganisation, id, nil)
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
		}
	case "systems":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		systems, err := a.svc.ListSystems(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"systems": systems})
	case "history":
		a.serveHistory(w, r, assessment.EntityOrganisation, id)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

// --- systems ---

func (a *API) handleSystemsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		orgID := strings.TrimSpace(r.URL.Query().Get("organisation_id"))
		systems, err := a.svc.ListSystems(r.Context(), orgID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"systems": systems})
	case http.MethodPost:
		var sys assessment.System
		if err := decodeJSON(w, r, &sys); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.svc.CreateSystem(r.Context(), &sys); err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r.Context(), "system.created", assessment.EntitySystem, sys.ID, map[string]any{
			"organisation_id": sys.OrganisationID,
			"name":            sys.Name,
		})
		writeJSON(w, http.StatusCreated, sys)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleSystemResource(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := splitResource(r.URL.Path, "/v1/systems/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			sys, err := a.svc.GetSystem(r.Context(), id)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, sys)
		case http.MethodDelete:
			if err := a.svc.DeleteSystem(r.Context(), id); err != nil {
				handleServiceError(w, r, err)
				return
			}
			a.audit(r.Context(), "system.deleted", assessment.EntitySystem, id, nil)
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case "assessments":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		list, err := a.svc.ListAssessments(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assessments": list})
	case "history":
		a.serveHistory(w, r, assessment.EntitySystem, id)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

// --- user profiles ---

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		email := strings.TrimSpace(r.URL.Query().Get("email"))
		if email == "" {
			writeError(w, r, http.StatusBadRequest, "email query parameter is required")
			return
		}
		up, err := a.svc.FindUserProfileByEmail(r.Context(), email)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, up)
	case http.MethodPost:
		var up assessment.UserProfile
		if err := decodeJSON(w, r, &up); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.svc.CreateUserProfile(r.Context(), &up); err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r.Context(), "user_profile.created", assessment.EntityUserProfile, up.ID, map[string]any{
			"email": up.Email,
			"role":  up.Role,
		})
		writeJSON(w, http.StatusCreated, up)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := splitResource(r.URL.Path, "/v1/users/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			up, err := a.svc.GetUserProfile(r.Context(), id)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, up)
		case http.MethodPatch:
			var up assessment.UserProfile
			if err := decodeJSON(w, r, &up); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			up.ID = id
			if err := a.svc.UpdateUserProfile(r.Context(), &up); err != nil {
				handleServiceError(w, r, err)
				return
			}
			a.audit(r.Context(), "user_profile.updated", assessment.EntityUserProfile, id, nil)
			writeJSON(w, http.StatusOK, up)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
		}
	case "history":
		a.serveHistory(w, r, assessment.EntityUserProfile, id)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

// --- configuration ---

func (a *API) handleConfigResource(w http.ResponseWriter, r *http.Request) {
	name, rest, ok := splitResource(r.URL.Path, "/v1/config/")
	if !ok || rest != "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, err := a.svc.ResolveConfiguration(r.Context(), name)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var settings assessment.Settings
		if err := decodeJSON(w, r, &settings); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		cfg, err := a.svc.PutConfiguration(r.Context(), name, settings)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r.Context(), "configuration.saved", "configuration", name, nil)
		writeJSON(w, http.StatusOK, cfg)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// splitResource splits "/v1/things/{id}" or "/v1/things/{id}/{rest}" after
// the prefix. It rejects empty ids and nested paths beyond one segment.
func splitResource(path, prefix string) (id, rest string, ok bool) {
	tail := strings.TrimPrefix(path, prefix)
	if tail == path || tail == "" {
		return "", "", false
	}
	id, rest, _ = strings.Cut(tail, "/")
	if id == "" || strings.Contains(rest, "/") {
		return "", "", false
	}
	return id, rest, true
}
