package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ckoons/Tekton-sub006/errors"
)

func TestNormalizeTypedChatResponse(t *testing.T) {
	line := []byte(`{"type":"chat_response","content":"hello there","ai_id":"athena-ai","model":"llama3.3:70b"}`)

	resp, err := Normalize(line)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "athena-ai", resp.AIID)
	assert.Equal(t, "llama3.3:70b", resp.Model)
}

func TestNormalizeTypedResponse(t *testing.T) {
	line := []byte(`{"type":"response","content":"ok","ai_id":"apollo-ai"}`)

	resp, err := Normalize(line)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", resp.Content)
}

func TestNormalizeFlatResponseShape(t *testing.T) {
	resp, err := Normalize([]byte(`{"response":"pong"}`))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Content)
}

func TestNormalizeFlatContentShape(t *testing.T) {
	resp, err := Normalize([]byte(`{"content":"pong","model":"test-model"}`))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
}

func TestNormalizeErrorShape(t *testing.T) {
	resp, err := Normalize([]byte(`{"type":"error","message":"model not loaded"}`))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "model not loaded", resp.Err)
}

func TestNormalizeErrorShapeWithoutMessage(t *testing.T) {
	resp, err := Normalize([]byte(`{"type":"error"}`))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Err)
}

func TestNormalizeNonStringBody(t *testing.T) {
	// Some workers reply with structured bodies; keep them as JSON text.
	resp, err := Normalize([]byte(`{"response":{"answer":42}}`))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"answer":42}`, resp.Content)
}

func TestNormalizeEmptyBodyIsFailure(t *testing.T) {
	resp, err := Normalize([]byte(`{"type":"chat_response","content":""}`))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Err)
}

func TestNormalizeInvalidInputs(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty line", ""},
		{"not json", "definitely not json"},
		{"truncated json", `{"type":"chat_response","content":`},
		{"unknown shape", `{"status":"fine"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.line))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidResponse))
		})
	}
}

func TestNewChatRequestHasRequestID(t *testing.T) {
	req := NewChatRequest("analyze this", map[string]any{"topic": "code"})
	assert.Equal(t, RequestChat, req.Type)
	assert.NotEmpty(t, req.RequestID)

	other := NewChatRequest("analyze this", nil)
	assert.NotEqual(t, req.RequestID, other.RequestID)
}

func TestWriteRequestFraming(t *testing.T) {
	var buf bytes.Buffer
	req := NewPingRequest()
	require.NoError(t, WriteRequest(&buf, req))

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Equal(t, 1, strings.Count(line, "\n"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(line, "\n")), &decoded))
	assert.Equal(t, "ping", decoded["type"])
}

func TestWriteRequestOmitsEmptyOptionalFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, Request{Type: RequestChat, Content: "hi"}))

	line := buf.String()
	assert.NotContains(t, line, "temperature")
	assert.NotContains(t, line, "max_tokens")
	assert.NotContains(t, line, "context")
}

func TestReadResponseSingleLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(`{"type":"chat_response","content":"hi","ai_id":"apollo-ai"}` + "\n"))

	resp, err := ReadResponse(r)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "hi", resp.Content)
}

func TestReadResponseReadsExactlyOneLine(t *testing.T) {
	input := `{"response":"first"}` + "\n" + `{"response":"second"}` + "\n"
	r := bufio.NewReader(strings.NewReader(input))

	resp, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	next, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, "second", next.Content)
}

func TestReadResponseLongLine(t *testing.T) {
	// Longer than the default bufio buffer to exercise line accumulation.
	big := strings.Repeat("x", 64*1024)
	r := bufio.NewReader(strings.NewReader(`{"response":"` + big + `"}` + "\n"))

	resp, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Len(t, resp.Content, len(big))
}

func TestReadResponseEOF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(""))
	_, err := ReadResponse(r)
	require.Error(t, err)
}

func TestReadResponseBlankLineIsInvalid(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\n"))
	_, err := ReadResponse(r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidResponse))
}
