package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"clientportal/internal/api/middleware"
	"clientportal/internal/pkg/errors"
	"clientportal/internal/platform/models"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

type ActivityReader interface {
	Recent(ctx context.Context, identityID string, limit int) ([]*models.AuditLog, error)
}

// ActivityHandler lists the signed-in identity's own login history.
type ActivityHandler struct {
	audit ActivityReader
}

func NewActivityHandler(audit ActivityReader) *ActivityHandler {
	return &ActivityHandler{audit: audit}
}

type ActivityEntry struct {
	Action    string `json:"action"`
	IPAddress string `json:"ipAddress"`
	Client    string `json:"client,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

type ActivityResponse struct {
	Activity []ActivityEntry `json:"activity"`
}

func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())

	limit := defaultActivityLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		if n > maxActivityLimit {
			n = maxActivityLimit
		}
		limit = n
	}

	logs, err := h.audit.Recent(r.Context(), session.IdentityID, limit)
	if err != nil {
		log.Error().Err(err).Str("identity_id", session.IdentityID).Msg("failed to read activity")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load activity", nil)
		return
	}

	entries := make([]ActivityEntry, 0, len(logs))
	for _, l := range logs {
		client, _ := l.Metadata["client"].(string)
		entries = append(entries, ActivityEntry{
			Action:    l.Action,
			IPAddress: l.IPAddress,
			Client:    client,
			CreatedAt: l.CreatedAt,
		})
	}

	errors.WriteJSON(w, http.StatusOK, ActivityResponse{Activity: entries})
}
