package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/model/speech"
	"github.com/zhouzirui/azmth/internal/service/remote"
)

// Client posts turns to the local POST /api/chat endpoint. The endpoint keeps
// no conversation state, so every turn goes through StartConversation.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient builds a client for baseURL (e.g. http://localhost:8080).
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("local chat url is required")
	}
	return &Client{
		endpoint: base + "/api/chat",
		http:     &http.Client{Timeout: timeout},
		logger:   logging.OrNop(logger).Named("local"),
	}, nil
}

type chatResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// StartConversation sends msg as JSON, or as multipart when a clip is attached.
func (c *Client) StartConversation(ctx context.Context, msg speech.Outgoing) (speech.Reply, error) {
	var (
		body        io.Reader
		contentType string
		err         error
	)
	if msg.HasAudio() {
		body, contentType, err = multipartBody(msg)
	} else {
		body, contentType, err = jsonBody(msg)
	}
	if err != nil {
		return speech.Reply{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return speech.Reply{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return speech.Reply{}, fmt.Errorf("post chat: %w", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return speech.Reply{}, &remote.StatusError{Op: "post chat", Status: resp.StatusCode, Body: out.Error}
	}
	if decodeErr != nil {
		return speech.Reply{}, fmt.Errorf("decode chat response: %w", decodeErr)
	}
	if out.Response == "" {
		return speech.Reply{}, remote.ErrEmptyReply
	}

	c.logger.Debug("chat reply received", zap.Int("length", len(out.Response)))
	return speech.Reply{Content: out.Response}, nil
}

// ContinueConversation is never reached since the endpoint assigns no
// conversation id; it degrades to a fresh turn.
func (c *Client) ContinueConversation(ctx context.Context, _ string, msg speech.Outgoing) (speech.Reply, error) {
	return c.StartConversation(ctx, msg)
}

func jsonBody(msg speech.Outgoing) (io.Reader, string, error) {
	payload, err := json.Marshal(map[string]string{"message": msg.Text})
	if err != nil {
		return nil, "", fmt.Errorf("encode chat request: %w", err)
	}
	return bytes.NewReader(payload), "application/json", nil
}

func multipartBody(msg speech.Outgoing) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	part, err := writer.CreateFormFile("audio", msg.Audio.Filename())
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(msg.Audio.Data); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}
	if err := writer.WriteField("transcript", msg.Text); err != nil {
		return nil, "", fmt.Errorf("write transcript field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}
