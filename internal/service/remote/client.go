package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/model/speech"
)

// ErrEmptyReply is returned when the backend answers without any reply text.
var ErrEmptyReply = errors.New("conversation reply is empty")

// StatusError reports a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// Options 远程对话服务客户端配置
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Retries    uint64
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// Client talks to the third-party conversation API.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	retries    uint64
	retryDelay time.Duration
	http       *http.Client
	logger     *zap.Logger
}

// conversationResponse covers both reply field spellings used by the API.
type conversationResponse struct {
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
	Question       string `json:"question"`
}

// Conversation is the preview returned by GET /conversation/{id}.
type Conversation struct {
	ID       string           `json:"conversation_id"`
	Messages []map[string]any `json:"messages,omitempty"`
	Raw      map[string]any   `json:"-"`
}

// NewClient creates a client for the API rooted at opts.BaseURL.
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("remote conversation url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid remote conversation url %q: %w", base, err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newDefaultHTTPClient()
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	return &Client{
		baseURL:    base,
		apiKey:     opts.APIKey,
		timeout:    opts.Timeout,
		retries:    opts.Retries,
		retryDelay: delay,
		http:       httpClient,
		logger:     logging.OrNop(logger).Named("remote"),
	}, nil
}

func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// StartConversation opens a new conversation with the first message.
func (c *Client) StartConversation(ctx context.Context, msg speech.Outgoing) (speech.Reply, error) {
	return c.post(ctx, "start conversation", "/start_conversation", msg)
}

// ContinueConversation sends a follow-up message to an existing conversation.
func (c *Client) ContinueConversation(ctx context.Context, conversationID string, msg speech.Outgoing) (speech.Reply, error) {
	if strings.TrimSpace(conversationID) == "" {
		return speech.Reply{}, errors.New("conversation id is required")
	}
	path := "/continue_conversation/" + url.PathEscape(conversationID)
	reply, err := c.post(ctx, "continue conversation", path, msg)
	if err != nil {
		return speech.Reply{}, err
	}
	if reply.ConversationID == "" {
		reply.ConversationID = conversationID
	}
	return reply, nil
}

// GetConversation fetches the conversation preview.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return Conversation{}, errors.New("conversation id is required")
	}

	var raw map[string]any
	err := c.do(ctx, "get conversation", http.MethodGet, "/conversation/"+url.PathEscape(conversationID), nil, &raw)
	if err != nil {
		return Conversation{}, err
	}

	conv := Conversation{ID: conversationID, Raw: raw}
	if id, ok := raw["conversation_id"].(string); ok && id != "" {
		conv.ID = id
	}
	if items, ok := raw["messages"].([]any); ok {
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				conv.Messages = append(conv.Messages, m)
			}
		}
	}
	return conv, nil
}

func (c *Client) post(ctx context.Context, op, path string, msg speech.Outgoing) (speech.Reply, error) {
	body, err := json.Marshal(map[string]string{"message": msg.Text})
	if err != nil {
		return speech.Reply{}, fmt.Errorf("%s: encode request: %w", op, err)
	}

	var resp conversationResponse
	if err := c.do(ctx, op, http.MethodPost, path, body, &resp); err != nil {
		return speech.Reply{}, err
	}

	content := resp.Response
	if content == "" {
		content = resp.Question
	}
	if content == "" {
		return speech.Reply{}, fmt.Errorf("%s: %w", op, ErrEmptyReply)
	}
	return speech.Reply{ConversationID: resp.ConversationID, Content: content}, nil
}

// do performs one logical request, retrying transport failures and 5xx
// responses when retries are configured.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.retryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.once(ctx, op, method, path, body, out)
		if err == nil {
			return nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Status < http.StatusInternalServerError {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		c.logger.Debug("request failed", zap.String("op", op), zap.Error(err))
		return retry.RetryableError(err)
	})
}

func (c *Client) once(ctx context.Context, op, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
