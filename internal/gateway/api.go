// ABOUTME: HTTP API handlers exposing presence, conversations and notifications as JSON
// ABOUTME: Mirrors the WebSocket operations for clients that poll instead of holding a channel

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/presence-gateway/internal/auth"
	"github.com/2389/presence-gateway/internal/chat"
	"github.com/2389/presence-gateway/internal/store"
)

// PresenceResponse is the JSON response for GET /api/presence.
type PresenceResponse struct {
	Chat          []string `json:"chat"`
	Notifications []string `json:"notifications"`
}

// BroadcastRequest is the JSON request body for POST /api/notifications/broadcast.
type BroadcastRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	// UserID targets one user and persists the notification. Empty pushes
	// to every open notification channel without persisting.
	UserID string `json:"user_id,omitempty"`
}

// BroadcastResponse is the JSON response for POST /api/notifications/broadcast.
type BroadcastResponse struct {
	Sent         int                 `json:"sent"`
	Notification *store.Notification `json:"notification,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrNoAdmin):
		return http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrEmptyBody), errors.Is(err, chat.ErrNoRecipient):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// sendDomainError maps err to a status and writes it. Internal errors are
// logged and hidden from the caller.
func (g *Gateway) sendDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("api request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			g.sendJSONError(w, status, "internal error")
			return
		}
	}
	g.sendJSONError(w, status, err.Error())
}

// handlePresence lists online identities for both channel domains.
func (g *Gateway) handlePresence(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, PresenceResponse{
		Chat:          g.chatRegistry.OnlineIdentities(),
		Notifications: g.notifyRegistry.OnlineIdentities(),
	})
}

// handleCounterparts returns the admin's conversation summaries.
func (g *Gateway) handleCounterparts(w http.ResponseWriter, r *http.Request) {
	list, err := g.router.GetCounterparts(r.Context())
	if err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, list)
}

// handleHistory returns one conversation log. Non-admin callers always get
// their conversation with the admin whatever {other} says.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := g.router.GetHistory(r.Context(), r.PathValue("other"))
	if err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, msgs)
}

// handleMarkConversationRead marks {other}'s messages to the caller as read.
func (g *Gateway) handleMarkConversationRead(w http.ResponseWriter, r *http.Request) {
	if err := g.router.MarkRead(r.Context(), r.PathValue("other")); err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListNotifications lists the caller's notifications, optionally
// filtered by ?status=unread|read.
func (g *Gateway) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	var filter *store.NotificationStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := store.ParseNotificationStatus(raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = &status
	}

	list, err := g.notifications.List(r.Context(), filter)
	if err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, list)
}

func (g *Gateway) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := g.notifications.MarkRead(r.Context(), r.PathValue("id")); err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := g.notifications.Delete(r.Context(), r.PathValue("id")); err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBroadcast pushes an admin notification to everyone or one user.
func (g *Gateway) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" || req.Message == "" {
		g.sendJSONError(w, http.StatusBadRequest, "title and message are required")
		return
	}

	if req.UserID != "" {
		n, err := g.notifications.SendToUser(r.Context(), req.UserID, req.Title, req.Message)
		if err != nil {
			g.sendDomainError(w, r, err)
			return
		}
		g.sendJSON(w, http.StatusCreated, BroadcastResponse{
			Sent:         len(g.notifyRegistry.ChannelsFor(req.UserID)),
			Notification: n,
		})
		return
	}

	sent, err := g.notifications.BroadcastAll(r.Context(), req.Title, req.Message)
	if err != nil {
		g.sendDomainError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, BroadcastResponse{Sent: sent})
}
