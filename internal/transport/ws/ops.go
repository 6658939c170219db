// ABOUTME: Operation tables for the chat and notification WebSocket endpoints
// ABOUTME: Decodes each request payload and calls the matching gateway, router or notify method

package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/2389/presence-gateway/internal/chat"
	"github.com/2389/presence-gateway/internal/notify"
)

// Endpoint paths.
const (
	ChatPath          = "/hubs/chat"
	NotificationsPath = "/hubs/notifications"
)

// NewChatEndpoint serves support chat over the chat gateway.
func NewChatEndpoint(gateway *chat.SessionGateway, router *chat.Router, logger *slog.Logger) *Endpoint {
	e := NewEndpoint("chat", gateway, logger)

	e.Handle("join-group", func(ctx context.Context, s *chat.Session, data json.RawMessage) (any, error) {
		req, err := decode[joinGroupRequest](data)
		if err != nil {
			return nil, err
		}
		group, err := gateway.JoinGroup(ctx, s, req.Other)
		if err != nil {
			return nil, err
		}
		return map[string]string{"group": group}, nil
	})

	e.Handle("send-message", func(ctx context.Context, _ *chat.Session, data json.RawMessage) (any, error) {
		req, err := decode[sendMessageRequest](data)
		if err != nil {
			return nil, err
		}
		return router.SendMessage(ctx, req.Target, req.Body)
	})

	e.Handle("get-history", func(ctx context.Context, _ *chat.Session, data json.RawMessage) (any, error) {
		req, err := decode[counterpartRequest](data)
		if err != nil {
			return nil, err
		}
		return router.GetHistory(ctx, req.Other)
	})

	e.Handle("get-counterparts", func(ctx context.Context, _ *chat.Session, _ json.RawMessage) (any, error) {
		return router.GetCounterparts(ctx)
	})

	e.Handle("mark-read", func(ctx context.Context, _ *chat.Session, data json.RawMessage) (any, error) {
		req, err := decode[counterpartRequest](data)
		if err != nil {
			return nil, err
		}
		return nil, router.MarkRead(ctx, req.Other)
	})

	e.Handle("delete-message", func(ctx context.Context, _ *chat.Session, data json.RawMessage) (any, error) {
		req, err := decode[deleteMessageRequest](data)
		if err != nil {
			return nil, err
		}
		deleted, err := router.DeleteMessage(ctx, req.Other, req.MessageID)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"deleted": deleted}, nil
	})

	return e
}

// NewNotificationEndpoint serves presence and notifications over the
// notification gateway.
func NewNotificationEndpoint(gateway *chat.SessionGateway, svc *notify.Service, logger *slog.Logger) *Endpoint {
	e := NewEndpoint("notifications", gateway, logger)

	e.Handle("broadcast-all", func(ctx context.Context, _ *chat.Session, data json.RawMessage) (any, error) {
		req, err := decode[broadcastAllRequest](data)
		if err != nil {
			return nil, err
		}
		sent, err := svc.BroadcastAll(ctx, req.Title, req.Message)
		if err != nil {
			return nil, err
		}
		return map[string]int{"sent": sent}, nil
	})

	e.Handle("broadcast-to-user", func(ctx context.Context, _ *chat.Session, data json.RawMessage) (any, error) {
		req, err := decode[broadcastToUserRequest](data)
		if err != nil {
			return nil, err
		}
		return svc.SendToUser(ctx, req.UserID, req.Title, req.Message)
	})

	e.Handle("get-online", func(ctx context.Context, _ *chat.Session, _ json.RawMessage) (any, error) {
		return gateway.Online(ctx)
	})

	return e
}
