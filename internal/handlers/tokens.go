package handlers

import (
	"net/http"
	"time"

	"github.com/sand/digital-marketplace/backend/internal/entities"
)

type tokenResponse struct {
	UserID    int64     `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken mints a bearer token for a user. Admin only; sign-in lives outside the marketplace.
func (h *HTTPHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if userID <= 0 {
		h.writeError(w, r, entities.Validationf("invalid user id %d", userID))
		return
	}
	if !h.tokens.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "user tokens are not configured"})
		return
	}

	token, expiresAt, err := h.tokens.Issue(userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "Issued user token", "user_id", userID, "expires_at", expiresAt)
	writeJSON(w, http.StatusOK, tokenResponse{UserID: userID, Token: token, ExpiresAt: expiresAt})
}
