package socket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	InitType    = "init"    // Snapshot sent to a participant once admitted
	JoinType    = "join"    // Someone opened the document
	LeaveType   = "leave"   // Someone closed the document or dropped
	MessageType = "message" // Full content plus cursor
	SaveType    = "save"    // Client asks for an immediate persist
	SavedType   = "saved"   // Outcome of a manual save
	RoleType    = "role"    // Role changed after a share grant changed
	ErrorType   = "error"   // Problem with the sender's last frame

	CodeInvalidMessage = "invalid_message"
	CodeUpdateRejected = "update_rejected"
	CodeSaveRejected   = "save_rejected"

	invalidFormatMessage = "Invalid WebSocket message format."
	readOnlyMessage      = "You have read-only access to this document."
)

type WSMessage struct {
	Type     string          `json:"type"`
	DocID    string          `json:"document_id,omitempty"`
	UserID   string          `json:"user_id,omitempty"`
	Username string          `json:"username,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type Cursor struct {
	Position int `json:"position"`
}

type PresenceEntry struct {
	ID       string  `json:"id"`
	UserID   string  `json:"user_id"`
	Username string  `json:"username"`
	Color    string  `json:"color"`
	Role     string  `json:"role"`
	Cursor   *Cursor `json:"cursor,omitempty"`
}

type InitPayload struct {
	ParticipantID string          `json:"participant_id"`
	Title         string          `json:"title"`
	Content       string          `json:"content"`
	Version       uint64          `json:"version"`
	Role          string          `json:"role"`
	Color         string          `json:"color"`
	Participants  []PresenceEntry `json:"participants"`
}

type JoinPayload struct {
	ParticipantID string `json:"participant_id"`
	Username      string `json:"username"`
	Color         string `json:"color"`
}

type LeavePayload struct {
	ParticipantID string `json:"participant_id"`
	Username      string `json:"username"`
}

type ContentPayload struct {
	Content string  `json:"content"`
	Cursor  *Cursor `json:"cursor,omitempty"`
	Color   string  `json:"color"`
	Version uint64  `json:"version"`
}

type SavedPayload struct {
	OK      bool   `json:"ok"`
	Version uint64 `json:"version"`
	Error   string `json:"error,omitempty"`
}

type RolePayload struct {
	Role string `json:"role"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Inbound frames. A client may only send these two kinds.
type inbound interface{ inbound() }

type updateRequest struct {
	Content string
	Cursor  *Cursor
}

type saveRequest struct{}

func (updateRequest) inbound() {}
func (saveRequest) inbound()   {}

var errInvalidFrame = errors.New("invalid frame")

// decodeInbound validates a raw client frame. Unknown types and missing fields are
// rejected rather than guessed at.
func decodeInbound(raw []byte) (inbound, error) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidFrame, err)
	}

	switch msg.Type {
	case MessageType:
		var p struct {
			Content *string `json:"content"`
			Cursor  *Cursor `json:"cursor"`
		}
		if len(msg.Payload) == 0 {
			return nil, fmt.Errorf("%w: message without payload", errInvalidFrame)
		}
		dec := json.NewDecoder(bytes.NewReader(msg.Payload))
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidFrame, err)
		}
		if p.Content == nil {
			return nil, fmt.Errorf("%w: message without content", errInvalidFrame)
		}
		if p.Cursor != nil && p.Cursor.Position < 0 {
			return nil, fmt.Errorf("%w: negative cursor position", errInvalidFrame)
		}
		return updateRequest{Content: *p.Content, Cursor: p.Cursor}, nil
	case SaveType:
		return saveRequest{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", errInvalidFrame)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errInvalidFrame, msg.Type)
	}
}

// encode builds an outbound frame. from may be nil for frames without a sender.
func encode(msgType, docID string, from *Participant, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg := WSMessage{Type: msgType, DocID: docID, Payload: body}
	if from != nil {
		msg.UserID = from.UserID
		msg.Username = from.Username
	}
	return json.Marshal(msg)
}
