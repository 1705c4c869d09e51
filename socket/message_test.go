package socket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/internal/permission"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    inbound
		wantErr bool
	}{
		{
			name: "content with cursor",
			raw:  `{"type":"message","payload":{"content":"hello","cursor":{"position":5}}}`,
			want: updateRequest{Content: "hello", Cursor: &Cursor{Position: 5}},
		},
		{
			name: "content without cursor",
			raw:  `{"type":"message","payload":{"content":""}}`,
			want: updateRequest{Content: ""},
		},
		{
			name: "save",
			raw:  `{"type":"save"}`,
			want: saveRequest{},
		},
		{name: "not json", raw: `hello`, wantErr: true},
		{name: "missing type", raw: `{"payload":{}}`, wantErr: true},
		{name: "unknown type", raw: `{"type":"comment","payload":{"text":"hi"}}`, wantErr: true},
		{name: "message without payload", raw: `{"type":"message"}`, wantErr: true},
		{name: "message without content", raw: `{"type":"message","payload":{"cursor":{"position":1}}}`, wantErr: true},
		{name: "content of wrong type", raw: `{"type":"message","payload":{"content":42}}`, wantErr: true},
		{name: "negative cursor", raw: `{"type":"message","payload":{"content":"x","cursor":{"position":-1}}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeInbound([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, errInvalidFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeCarriesSender(t *testing.T) {
	p := NewParticipant("p1", "u1", "ana", permission.Editor, nil)
	raw, err := encode(MessageType, "d1", p, ContentPayload{Content: "hi", Color: "#fff", Version: 3})
	require.NoError(t, err)

	var msg WSMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, MessageType, msg.Type)
	assert.Equal(t, "d1", msg.DocID)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "ana", msg.Username)
	assert.JSONEq(t, `{"content":"hi","color":"#fff","version":3}`, string(msg.Payload))

	raw, err = encode(ErrorType, "d1", nil, ErrorPayload{Code: CodeInvalidMessage, Message: invalidFormatMessage})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","document_id":"d1","payload":{"code":"invalid_message","message":"Invalid WebSocket message format."}}`, string(raw))
}
