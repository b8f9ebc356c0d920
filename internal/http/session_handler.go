package http

import (
	"net/http"
)

type SessionHandler struct {
	sessions Sessions
}

func NewSessionHandler(sessions Sessions) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// DELETE /api/v1/session
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	if err := h.sessions.End(r.Context(), s.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to end session")
		return
	}

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}
