// Package wire implements the NDJSON protocol spoken by Greek Chorus
// specialists: one JSON object per line, newline-terminated, over a raw TCP
// stream. The codec is stateless; framing and request serialization live in
// this package so every component speaks the protocol identically.
package wire

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ckoons/Tekton-sub006/errors"
)

// RequestType identifies the kind of request sent to a specialist.
type RequestType string

// Request types understood by specialist workers.
const (
	RequestChat    RequestType = "chat"
	RequestMessage RequestType = "message"
	RequestPing    RequestType = "ping"
	RequestHealth  RequestType = "health"
	RequestInfo    RequestType = "info"
)

// Request is one NDJSON-framed request to a specialist.
type Request struct {
	Type        RequestType    `json:"type"`
	Content     string         `json:"content,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
}

// NewChatRequest builds a chat request with a fresh request ID.
func NewChatRequest(content string, context map[string]any) Request {
	return Request{
		Type:      RequestChat,
		Content:   content,
		Context:   context,
		RequestID: uuid.NewString(),
	}
}

// NewPingRequest builds the lightweight liveness probe request.
func NewPingRequest() Request {
	return Request{
		Type:      RequestPing,
		Content:   "ping",
		RequestID: uuid.NewString(),
	}
}

// NewInfoRequest builds a request for specialist identity and capabilities.
func NewInfoRequest() Request {
	return Request{
		Type:      RequestInfo,
		RequestID: uuid.NewString(),
	}
}

// Response is the normalized result of decoding one specialist reply line.
// Specialists reply in several historical shapes; Normalize folds all of them
// into this single form.
type Response struct {
	Success bool   `json:"success"`
	Content string `json:"response"`
	AIID    string `json:"ai_id"`
	Model   string `json:"model"`
	Err     string `json:"error,omitempty"`
}

// rawResponse covers the union of every reply shape specialists emit.
// Content and Response use json.RawMessage because some workers send
// non-string bodies.
type rawResponse struct {
	Type     string          `json:"type"`
	Content  json.RawMessage `json:"content"`
	Response json.RawMessage `json:"response"`
	Message  string          `json:"message"`
	AIID     string          `json:"ai_id"`
	Model    string          `json:"model"`
}

// shapeMatcher attempts to interpret a decoded reply. It reports ok=false when
// the shape does not apply, letting Normalize fall through to the next matcher.
type shapeMatcher func(raw *rawResponse) (Response, bool)

// Matchers are ordered: error replies first, then the typed response shapes,
// then the flat legacy shapes.
var shapeMatchers = []shapeMatcher{
	matchErrorShape,
	matchTypedResponse,
	matchFlatResponse,
	matchFlatContent,
}

// Normalize decodes one reply line into the canonical Response form. A decode
// failure, an unknown shape, or an empty body yields ErrInvalidResponse; an
// error-typed reply yields a failed Response with the specialist's message.
func Normalize(line []byte) (Response, error) {
	if len(line) == 0 {
		return Response{}, errors.WrapInvalid(
			errors.ErrInvalidResponse, "Codec", "Normalize", "empty reply line")
	}

	var raw rawResponse
	if err := json.Unmarshal(line, &raw); err != nil {
		return Response{}, errors.WrapInvalid(
			errors.ErrInvalidResponse, "Codec", "Normalize", "decode reply JSON")
	}

	for _, match := range shapeMatchers {
		if resp, ok := match(&raw); ok {
			return resp, nil
		}
	}

	return Response{}, errors.WrapInvalid(
		errors.ErrInvalidResponse, "Codec", "Normalize", "unrecognized reply shape")
}

func matchErrorShape(raw *rawResponse) (Response, bool) {
	if raw.Type != "error" {
		return Response{}, false
	}
	msg := raw.Message
	if msg == "" {
		msg = "unknown specialist error"
	}
	return Response{Success: false, AIID: raw.AIID, Model: raw.Model, Err: msg}, true
}

func matchTypedResponse(raw *rawResponse) (Response, bool) {
	if raw.Type != "response" && raw.Type != "chat_response" {
		return Response{}, false
	}
	content, ok := decodeBody(raw.Content)
	if !ok {
		content, ok = decodeBody(raw.Response)
	}
	if !ok {
		return Response{Success: false, AIID: raw.AIID, Model: raw.Model, Err: "empty response body"}, true
	}
	return Response{Success: true, Content: content, AIID: raw.AIID, Model: raw.Model}, true
}

func matchFlatResponse(raw *rawResponse) (Response, bool) {
	if raw.Type != "" || len(raw.Response) == 0 {
		return Response{}, false
	}
	content, ok := decodeBody(raw.Response)
	if !ok {
		return Response{Success: false, AIID: raw.AIID, Model: raw.Model, Err: "empty response body"}, true
	}
	return Response{Success: true, Content: content, AIID: raw.AIID, Model: raw.Model}, true
}

func matchFlatContent(raw *rawResponse) (Response, bool) {
	if raw.Type != "" || len(raw.Content) == 0 {
		return Response{}, false
	}
	content, ok := decodeBody(raw.Content)
	if !ok {
		return Response{Success: false, AIID: raw.AIID, Model: raw.Model, Err: "empty response body"}, true
	}
	return Response{Success: true, Content: content, AIID: raw.AIID, Model: raw.Model}, true
}

// decodeBody extracts a textual body from a raw JSON value. Strings decode
// directly; any other non-null value is kept as its compact JSON text.
func decodeBody(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", false
		}
		return s, true
	}
	return string(raw), true
}
