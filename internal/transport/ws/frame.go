// ABOUTME: Wire frames for the WebSocket endpoints and their payload validation
// ABOUTME: Requests carry an id echoed in the result; events are pushed without one

package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/2389/presence-gateway/internal/auth"
	"github.com/2389/presence-gateway/internal/chat"
	"github.com/2389/presence-gateway/internal/store"
)

// ErrInvalidFrame is returned for frames that do not decode or validate.
var ErrInvalidFrame = errors.New("invalid frame")

// ErrUnknownOp is returned for a frame type the endpoint does not serve.
var ErrUnknownOp = errors.New("unknown operation")

// resultType is the frame type of every reply.
const resultType = "result"

// Frame is an inbound request.
type Frame struct {
	ID   string          `json:"id"`
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Reply answers one Frame.
type Reply struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

type joinGroupRequest struct {
	Other string `json:"other" validate:"required,max=256"`
}

type sendMessageRequest struct {
	Target string `json:"target" validate:"max=256"`
	Body   string `json:"body" validate:"required,max=4000"`
}

type counterpartRequest struct {
	Other string `json:"other" validate:"max=256"`
}

type deleteMessageRequest struct {
	Other     string `json:"other" validate:"required,max=256"`
	MessageID int64  `json:"messageId" validate:"required,gt=0"`
}

type broadcastAllRequest struct {
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=4000"`
}

type broadcastToUserRequest struct {
	UserID  string `json:"userId" validate:"required,max=256"`
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=4000"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// parseFrame decodes and validates an inbound frame.
func parseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err := validate.Struct(&f); err != nil {
		return &f, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return &f, nil
}

// decode unmarshals a frame's data into T and validates it. Missing data
// decodes as the zero value.
func decode[T any](data json.RawMessage) (*T, error) {
	var v T
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
	}
	if err := validate.Struct(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return &v, nil
}

// errorCode gives clients a stable code for the sentinel errors.
func errorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, chat.ErrNoAdmin):
		return "no_admin"
	case errors.Is(err, ErrInvalidFrame),
		errors.Is(err, chat.ErrEmptyBody),
		errors.Is(err, chat.ErrNoRecipient):
		return "invalid"
	case errors.Is(err, ErrUnknownOp):
		return "unknown_op"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
