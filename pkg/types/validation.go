package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

const (
	// MaxContentLength is the content bound in UTF-16 code units.
	MaxContentLength = 5000

	// DefaultHistoryLimit applies when get_history omits or garbles limit.
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	// MaxPayloadBytes is the default transport-level frame bound.
	MaxPayloadBytes = 64 * 1024
)

// ValidateFrame parses and schema-checks a raw inbound frame.
// FUNCTIONAL DISCOVERY: Every frame from a client is untrusted; nothing past
// this function re-validates, so user supplied identities and content are
// trimmed here and returned normalized on the Frame.
func ValidateFrame(raw []byte) (*Frame, *ValidationError) {
	if !json.Valid(raw) {
		return nil, fail(CodeInvalidJSON, "Message is not valid JSON.")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return nil, fail(CodeInvalidJSON, "Message is not valid JSON.")
	}

	data, ok := decoded.(map[string]interface{})
	if !ok || data == nil {
		return nil, fail(CodeInvalidFormat, "Message must be a JSON object.")
	}

	frameType, ok := data["type"].(string)
	if !ok || frameType == "" {
		return nil, fail(CodeMissingType, "Message must include a 'type' field.")
	}

	switch frameType {
	case FrameDirectMessage:
		return validateDirectMessage(data)
	case FrameGetHistory:
		return validateGetHistory(data)
	case FramePing, FrameGetOnlineUsers:
		return &Frame{Type: frameType}, nil
	default:
		return nil, fail(CodeUnknownType, fmt.Sprintf("Unknown message type: '%s'.", frameType))
	}
}

func validateDirectMessage(data map[string]interface{}) (*Frame, *ValidationError) {
	to, ok := data["to"].(string)
	if !ok || trimBlank(to) == "" {
		return nil, fail(CodeMissingRecipient, "'to' field must be a non-empty string.")
	}

	content, ok := data["content"].(string)
	if !ok || trimBlank(content) == "" {
		return nil, fail(CodeEmptyContent, "'content' must be a non-empty string.")
	}

	// Length is checked before trimming so padding cannot smuggle oversize frames.
	if UTF16Len(content) > MaxContentLength {
		return nil, fail(CodeContentTooLong,
			fmt.Sprintf("Message content exceeds %d characters.", MaxContentLength))
	}

	return &Frame{
		Type:    FrameDirectMessage,
		To:      trimBlank(to),
		Content: trimBlank(content),
	}, nil
}

func validateGetHistory(data map[string]interface{}) (*Frame, *ValidationError) {
	with, ok := data["with"].(string)
	if !ok || trimBlank(with) == "" {
		return nil, fail(CodeMissingUser, "'with' field must be a non-empty userId.")
	}

	limit := DefaultHistoryLimit
	if raw, present := data["limit"]; present {
		limit = coerceLimit(raw)
	}

	return &Frame{
		Type:  FrameGetHistory,
		With:  trimBlank(with),
		Limit: limit,
	}, nil
}

// coerceLimit turns any JSON value into a limit in [1, MaxHistoryLimit].
// Numbers truncate toward zero, strings use their leading integer, and
// anything unparseable or below 1 falls back to the default.
func coerceLimit(raw interface{}) int {
	var n float64
	switch v := raw.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return DefaultHistoryLimit
		}
		n = math.Trunc(f)
	case string:
		parsed, ok := leadingInt(v)
		if !ok {
			return DefaultHistoryLimit
		}
		n = parsed
	default:
		return DefaultHistoryLimit
	}

	if n < 1 {
		return DefaultHistoryLimit
	}
	if n > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return int(n)
}

// leadingInt parses an optionally signed run of decimal digits after leading
// whitespace, ignoring whatever follows.
func leadingInt(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// trimBlank strips leading and trailing whitespace, including the U+FEFF byte
// order mark that browsers also treat as blank.
func trimBlank(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\uFEFF'
	})
}

// UTF16Len counts s in UTF-16 code units, the unit browsers use for string length.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}
