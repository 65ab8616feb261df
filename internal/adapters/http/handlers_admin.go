package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) unlockAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := claimsFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "unlock_account")
		return
	}
	accountID, err := accountIDParam(r)
	if err != nil {
		writeValidationError(r.Context(), w, "unlock_account", err)
		return
	}
	view, err := h.service.UnlockAccount(r.Context(), actor, accountID)
	if err != nil {
		writeMappedError(r.Context(), w, "unlock_account", err)
		return
	}
	writeSuccess(w, http.StatusOK, view)
}

func (h *Handler) disableAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := claimsFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "disable_account")
		return
	}
	accountID, err := accountIDParam(r)
	if err != nil {
		writeValidationError(r.Context(), w, "disable_account", err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "disable_account", err)
		return
	}
	view, err := h.service.DisableAccount(r.Context(), actor, accountID, req.Reason)
	if err != nil {
		writeMappedError(r.Context(), w, "disable_account", err)
		return
	}
	writeSuccess(w, http.StatusOK, view)
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := claimsFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "grant_permission")
		return
	}
	accountID, err := accountIDParam(r)
	if err != nil {
		writeValidationError(r.Context(), w, "grant_permission", err)
		return
	}
	var req struct {
		Permission string `json:"permission"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "grant_permission", err)
		return
	}
	view, err := h.service.GrantPermission(r.Context(), actor, accountID, req.Permission)
	if err != nil {
		writeMappedError(r.Context(), w, "grant_permission", err)
		return
	}
	writeSuccess(w, http.StatusOK, view)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := claimsFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "revoke_permission")
		return
	}
	accountID, err := accountIDParam(r)
	if err != nil {
		writeValidationError(r.Context(), w, "revoke_permission", err)
		return
	}
	view, err := h.service.RevokePermission(r.Context(), actor, accountID, chi.URLParam(r, "permission"))
	if err != nil {
		writeMappedError(r.Context(), w, "revoke_permission", err)
		return
	}
	writeSuccess(w, http.StatusOK, view)
}
