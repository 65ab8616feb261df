package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/application"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", name, err)
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", name+" unavailable")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) jwks(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.PublicKeys()
	if err != nil {
		writeMappedError(r.Context(), w, "jwks", err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req application.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "register", err)
		return
	}
	req.IPAddress = readIP(r)

	res, err := h.service.Register(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "register", err)
		return
	}
	writeSuccess(w, http.StatusCreated, res)
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

// token serves the password and refresh_token grants from either a form or a JSON body.
func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	req, err := readTokenRequest(w, r)
	if err != nil {
		writeValidationError(r.Context(), w, "token", err)
		return
	}

	var res application.TokenResponse
	switch req.GrantType {
	case "password":
		username := req.Username
		if username == "" {
			username = req.Email
		}
		res, err = h.service.PasswordGrant(r.Context(), application.PasswordGrantRequest{
			Email:     username,
			Password:  req.Password,
			IPAddress: readIP(r),
		})
	case "refresh_token":
		if strings.TrimSpace(req.RefreshToken) == "" {
			writeValidationError(r.Context(), w, "token", errors.New("refresh_token is required"))
			return
		}
		res, err = h.service.Refresh(r.Context(), req.RefreshToken)
	default:
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_GRANT_TYPE", "grant_type must be password or refresh_token")
		return
	}
	if err != nil {
		writeMappedError(r.Context(), w, "token_"+req.GrantType, err)
		return
	}
	writeToken(w, res)
}

func readTokenRequest(w http.ResponseWriter, r *http.Request) (tokenRequest, error) {
	if isFormRequest(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return tokenRequest{}, err
		}
		return tokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			Username:     r.PostForm.Get("username"),
			Password:     r.PostForm.Get("password"),
			RefreshToken: r.PostForm.Get("refresh_token"),
		}, nil
	}
	var req tokenRequest
	err := decodeBody(r, &req)
	return req, err
}

func (h *Handler) revokeAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "revoke_all")
		return
	}
	if err := h.service.RevokeAll(r.Context(), claims.AccountID, "user_request"); err != nil {
		writeMappedError(r.Context(), w, "revoke_all", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "me")
		return
	}
	view, err := h.service.GetAccount(r.Context(), claims)
	if err != nil {
		writeMappedError(r.Context(), w, "me", err)
		return
	}
	writeSuccess(w, http.StatusOK, view)
}

