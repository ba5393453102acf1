package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKey_Symmetric(t *testing.T) {
	assert.Equal(t, ConversationKey("alice", "bob"), ConversationKey("bob", "alice"))
	assert.Equal(t, "alice:bob", ConversationKey("bob", "alice"))
	assert.NotEqual(t, ConversationKey("a", "bc"), ConversationKey("ab", "c"))
}

func TestValidateFrame_Envelope(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", `{"type":`, CodeInvalidJSON},
		{"trailing garbage", `{"type":"ping"} x`, CodeInvalidJSON},
		{"array", `[1,2]`, CodeInvalidFormat},
		{"null", `null`, CodeInvalidFormat},
		{"string", `"ping"`, CodeInvalidFormat},
		{"missing type", `{}`, CodeMissingType},
		{"empty type", `{"type":""}`, CodeMissingType},
		{"numeric type", `{"type":5}`, CodeMissingType},
		{"unknown type", `{"type":"group_message"}`, CodeUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, verr := ValidateFrame([]byte(tt.raw))
			assert.Nil(t, frame)
			require.NotNil(t, verr)
			assert.Equal(t, tt.code, verr.Code)
			assert.NotEmpty(t, verr.Message)
		})
	}
}

func TestValidateFrame_NoFieldTypes(t *testing.T) {
	for _, frameType := range []string{FramePing, FrameGetOnlineUsers} {
		frame, verr := ValidateFrame([]byte(`{"type":"` + frameType + `","extra":true}`))
		require.Nil(t, verr)
		assert.Equal(t, frameType, frame.Type)
	}
}

func TestValidateFrame_DirectMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		code    string
		to      string
		content string
	}{
		{"valid", `{"type":"direct_message","to":"bob","content":"hi"}`, "", "bob", "hi"},
		{"trims fields", `{"type":"direct_message","to":"  bob ","content":"\n hi there \t"}`, "", "bob", "hi there"},
		{"missing to", `{"type":"direct_message","content":"hi"}`, CodeMissingRecipient, "", ""},
		{"blank to", `{"type":"direct_message","to":"   ","content":"hi"}`, CodeMissingRecipient, "", ""},
		{"numeric to", `{"type":"direct_message","to":7,"content":"hi"}`, CodeMissingRecipient, "", ""},
		{"missing content", `{"type":"direct_message","to":"bob"}`, CodeEmptyContent, "", ""},
		{"whitespace content", `{"type":"direct_message","to":"bob","content":"  \n "}`, CodeEmptyContent, "", ""},
		{"object content", `{"type":"direct_message","to":"bob","content":{"a":1}}`, CodeEmptyContent, "", ""},
		{"byte order mark content", "{\"type\":\"direct_message\",\"to\":\"bob\",\"content\":\"\uFEFF \"}", CodeEmptyContent, "", ""},
		{"byte order mark to", "{\"type\":\"direct_message\",\"to\":\"\uFEFF\",\"content\":\"hi\"}", CodeMissingRecipient, "", ""},
		{"strips byte order marks", "{\"type\":\"direct_message\",\"to\":\"\uFEFFbob\",\"content\":\"\uFEFFhi\u00A0\"}", "", "bob", "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, verr := ValidateFrame([]byte(tt.raw))
			if tt.code != "" {
				require.NotNil(t, verr)
				assert.Equal(t, tt.code, verr.Code)
				return
			}
			require.Nil(t, verr)
			assert.Equal(t, FrameDirectMessage, frame.Type)
			assert.Equal(t, tt.to, frame.To)
			assert.Equal(t, tt.content, frame.Content)
		})
	}
}

func TestValidateFrame_ContentBoundary(t *testing.T) {
	build := func(content string) []byte {
		data, err := json.Marshal(map[string]string{"type": FrameDirectMessage, "to": "bob", "content": content})
		require.NoError(t, err)
		return data
	}

	frame, verr := ValidateFrame(build(strings.Repeat("a", MaxContentLength)))
	require.Nil(t, verr)
	assert.Equal(t, MaxContentLength, len(frame.Content))

	_, verr = ValidateFrame(build(strings.Repeat("a", MaxContentLength+1)))
	require.NotNil(t, verr)
	assert.Equal(t, CodeContentTooLong, verr.Code)

	// Astral characters count as two code units each.
	_, verr = ValidateFrame(build(strings.Repeat("😀", MaxContentLength/2)))
	assert.Nil(t, verr)
	_, verr = ValidateFrame(build(strings.Repeat("😀", MaxContentLength/2) + "a"))
	require.NotNil(t, verr)
	assert.Equal(t, CodeContentTooLong, verr.Code)
}

func TestValidateFrame_GetHistory(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		code  string
		with  string
		limit int
	}{
		{"default limit", `{"type":"get_history","with":"bob"}`, "", "bob", DefaultHistoryLimit},
		{"explicit limit", `{"type":"get_history","with":" bob ","limit":10}`, "", "bob", 10},
		{"float truncates", `{"type":"get_history","with":"bob","limit":3.9}`, "", "bob", 3},
		{"string limit", `{"type":"get_history","with":"bob","limit":"12"}`, "", "bob", 12},
		{"string with suffix", `{"type":"get_history","with":"bob","limit":"12abc"}`, "", "bob", 12},
		{"garbage string", `{"type":"get_history","with":"bob","limit":"abc"}`, "", "bob", DefaultHistoryLimit},
		{"zero", `{"type":"get_history","with":"bob","limit":0}`, "", "bob", DefaultHistoryLimit},
		{"negative", `{"type":"get_history","with":"bob","limit":-4}`, "", "bob", DefaultHistoryLimit},
		{"boolean", `{"type":"get_history","with":"bob","limit":true}`, "", "bob", DefaultHistoryLimit},
		{"null", `{"type":"get_history","with":"bob","limit":null}`, "", "bob", DefaultHistoryLimit},
		{"clamped", `{"type":"get_history","with":"bob","limit":5000}`, "", "bob", MaxHistoryLimit},
		{"missing with", `{"type":"get_history"}`, CodeMissingUser, "", 0},
		{"blank with", `{"type":"get_history","with":" "}`, CodeMissingUser, "", 0},
		{"byte order mark with", "{\"type\":\"get_history\",\"with\":\"\uFEFF\"}", CodeMissingUser, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, verr := ValidateFrame([]byte(tt.raw))
			if tt.code != "" {
				require.NotNil(t, verr)
				assert.Equal(t, tt.code, verr.Code)
				return
			}
			require.Nil(t, verr)
			assert.Equal(t, tt.with, frame.With)
			assert.Equal(t, tt.limit, frame.Limit)
		})
	}
}

func TestEnvelopes_WireShape(t *testing.T) {
	msg := &Message{
		ID:        "m1",
		From:      "alice",
		To:        "bob",
		Content:   "hi",
		CreatedAt: time.UnixMilli(1700000000123),
	}

	data, err := json.Marshal(NewDirectMessage(msg, false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"direct_message","message":{"id":"m1","from":"alice","content":"hi","timestamp":1700000000123}}`, string(data))

	data, err = json.Marshal(NewDirectMessage(msg, true))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"queued":true`)

	data, err = json.Marshal(NewAck(msg, StatusQueued))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message_ack","messageId":"m1","to":"bob","timestamp":1700000000123,"status":"queued"}`, string(data))

	data, err = json.Marshal(NewPresence("alice", PresenceOffline, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"presence","userId":"alice","status":"offline","onlineUsers":[]}`, string(data))
}
