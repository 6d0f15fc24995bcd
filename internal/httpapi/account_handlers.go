package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"goldilocks.org/internal/account"
	"goldilocks.org/internal/audit"
	"goldilocks.org/internal/settings"
)

type profilePatchRequest struct {
	FullName *string `json:"full_name"`
	Bio      *string `json:"bio"`
	Location *string `json:"location"`
	Website  *string `json:"website"`
	Company  *string `json:"company"`
	JobTitle *string `json:"job_title"`
	Timezone *string `json:"timezone"`
	Language *string `json:"language"`
	Theme    *string `json:"theme"`
}

func (p profilePatchRequest) toUpdate() account.ProfileUpdate {
	return account.ProfileUpdate{
		FullName: p.FullName,
		Bio:      p.Bio,
		Location: p.Location,
		Website:  p.Website,
		Company:  p.Company,
		JobTitle: p.JobTitle,
		Timezone: p.Timezone,
		Language: p.Language,
		Theme:    p.Theme,
	}
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := account.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		profile, err := a.accounts.GetProfile(r.Context(), user.ID)
		if err != nil {
			handleAccountError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"profile": profile})

	case http.MethodPatch:
		var req profilePatchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		update := req.toUpdate()
		if len(update.ChangedFields()) == 0 {
			writeError(w, r, http.StatusBadRequest, "no fields to update")
			return
		}
		if err := a.accounts.UpdateProfile(r.Context(), user.ID, update); err != nil {
			handleAccountError(w, r, err)
			return
		}
		profile, err := a.accounts.GetProfile(r.Context(), user.ID)
		if err != nil {
			handleAccountError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "profile.updated", map[string]any{
			"fields": update.ChangedFields(),
		})
		writeJSON(w, http.StatusOK, map[string]any{"profile": profile})

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := a.requireAdmin(r); err != nil {
		a.denied(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.accounts.Stats(r.Context()))
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	// Admins see every row, everyone else only the public ones.
	publicOnly := a.requireAdmin(r) != nil
	rows, err := a.settings.List(r.Context(), publicOnly)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

type settingPutRequest struct {
	Value       any    `json:"value"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Public      *bool  `json:"is_public"`
}

func (a *API) handleAdminSetting(w http.ResponseWriter, r *http.Request) {
	if err := a.requireAdmin(r); err != nil {
		a.denied(w, r, err)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/v1/admin/settings/")
	if key == "" || strings.Contains(key, "/") {
		writeError(w, r, http.StatusNotFound, "setting not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		row, err := a.settings.Get(r.Context(), key)
		if err != nil {
			if errors.Is(err, settings.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "setting not found")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, row)

	case http.MethodPut:
		var req settingPutRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}

		row, err := a.settings.Get(r.Context(), key)
		if errors.Is(err, settings.ErrNotFound) {
			if req.Type == "" {
				writeError(w, r, http.StatusBadRequest, "type is required for a new setting")
				return
			}
			row = &settings.Setting{Key: key, Type: req.Type}
		} else if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		if req.Type != "" {
			row.Type = req.Type
		}
		if req.Description != "" {
			row.Description = req.Description
		}
		if req.Public != nil {
			row.Public = *req.Public
		}
		if err := row.SetValue(req.Value); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.settings.Upsert(r.Context(), row); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		_ = audit.LogEvent(r.Context(), "settings.updated", map[string]any{"key": key})
		writeJSON(w, http.StatusOK, row)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}
