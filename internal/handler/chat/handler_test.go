package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/azmth/internal/model/speech"
	"github.com/zhouzirui/azmth/internal/service/ai"
)

type failingResponder struct{}

func (failingResponder) ReplyText(context.Context, string) (string, error) {
	return "", errors.New("model offline")
}

func (failingResponder) ReplyVoice(context.Context, string, speech.Upload) (string, error) {
	return "", errors.New("model offline")
}

func setupRouter(responder Responder) *chi.Mux {
	r := chi.NewRouter()
	New(responder, nil).RegisterRoutes(r)
	return r
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func multipartRequest(t *testing.T, audio []byte, transcript string) *http.Request {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	if audio != nil {
		part, err := writer.CreateFormFile("audio", "recording.wav")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(audio)
	}
	if transcript != "" {
		writer.WriteField("transcript", transcript)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/chat", buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestChatJSONMessage(t *testing.T) {
	r := setupRouter(ai.Echo{})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := decodeBody(t, resp)["response"]; got != `Azmth: I received your message: "hello"` {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestChatJSONMissingMessage(t *testing.T) {
	r := setupRouter(ai.Echo{})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if got := decodeBody(t, resp)["error"]; got != "Message is missing" {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestChatVoiceMessage(t *testing.T) {
	r := setupRouter(ai.Echo{})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, multipartRequest(t, []byte("RIFF1234"), "good morning"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	want := `Azmth: I received your voice message. The transcript says: "good morning". The audio file recording.wav (8 bytes) was successfully processed.`
	if got := decodeBody(t, resp)["response"]; got != want {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestChatVoiceValidation(t *testing.T) {
	r := setupRouter(ai.Echo{})

	tests := []struct {
		name       string
		audio      []byte
		transcript string
		want       string
	}{
		{name: "missing audio", transcript: "hi", want: "Audio file is missing"},
		{name: "missing transcript", audio: []byte("RIFF"), want: "Transcript is missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, multipartRequest(t, tt.audio, tt.transcript))

			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
			if got := decodeBody(t, resp)["error"]; got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestChatUnsupportedContentType(t *testing.T) {
	r := setupRouter(ai.Echo{})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.Code)
	}
	if got := decodeBody(t, resp)["error"]; got != "Unsupported content type" {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestChatInternalErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder Responder
		body      string
	}{
		{name: "malformed json", responder: ai.Echo{}, body: `{"message":`},
		{name: "responder failure", responder: failingResponder{}, body: `{"message":"hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(tt.responder)
			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)

			if resp.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", resp.Code)
			}
			if got := decodeBody(t, resp)["error"]; got != "An error occurred while processing your request" {
				t.Fatalf("unexpected error %q", got)
			}
		})
	}
}
