// ABOUTME: Matrix relay posting notifications into a support room
// ABOUTME: Lets staff see offline messages and broadcasts from any Matrix client

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// sendTimeout bounds one relay call.
const sendTimeout = 30 * time.Second

// MatrixConfig holds the relay's Matrix account and target room.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
}

// MatrixRelay posts notifications as plain text messages in one room.
type MatrixRelay struct {
	client *mautrix.Client
	room   id.RoomID
	logger *slog.Logger
}

// NewMatrixRelay creates a relay. The homeserver is not contacted until the
// first Relay call. Pass nil logger for default.
func NewMatrixRelay(cfg MatrixConfig, logger *slog.Logger) (*MatrixRelay, error) {
	if cfg.Homeserver == "" || cfg.AccessToken == "" || cfg.RoomID == "" {
		return nil, errors.New("matrix relay needs homeserver, access token and room id")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &MatrixRelay{
		client: client,
		room:   id.RoomID(cfg.RoomID),
		logger: logger.With("component", "matrix-relay"),
	}, nil
}

// Relay sends the notification to the configured room.
func (m *MatrixRelay) Relay(ctx context.Context, title, message string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	text := title
	if message != "" {
		text += "\n\n" + message
	}

	resp, err := m.client.SendText(ctx, m.room, text)
	if err != nil {
		return fmt.Errorf("sending to %s: %w", m.room, err)
	}

	m.logger.Debug("relayed notification", "room", m.room.String(), "event_id", resp.EventID.String())
	return nil
}
