package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/model/speech"
)

// WSRecognizerConfig 实时识别服务配置
type WSRecognizerConfig struct {
	URL      string
	Token    string
	Language string
	Format   string
	// CloseTimeout bounds how long Close waits for trailing results.
	CloseTimeout time.Duration
}

// WSRecognizer streams audio to a websocket recognition service.
//
// Client → server: one JSON start frame, binary audio frames, one JSON end frame.
// Server → client: JSON frames of type "result", "error" or "end".
type WSRecognizer struct {
	cfg    WSRecognizerConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

type wsClientMessage struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
	Format   string `json:"format,omitempty"`
}

type wsServerMessage struct {
	Type        string                     `json:"type"`
	ResultIndex int                        `json:"resultIndex"`
	Results     []speech.RecognitionResult `json:"results"`
	Message     string                     `json:"message,omitempty"`
}

// NewWSRecognizer 创建实时识别客户端
func NewWSRecognizer(cfg WSRecognizerConfig, logger *zap.Logger) *WSRecognizer {
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Format == "" {
		cfg.Format = "wav"
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 2 * time.Second
	}
	return &WSRecognizer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logging.OrNop(logger).Named("asr"),
	}
}

// Open dials the recognition service and sends the start frame.
func (r *WSRecognizer) Open(ctx context.Context) (RecognitionStream, error) {
	if strings.TrimSpace(r.cfg.URL) == "" {
		return nil, errors.New("recognition url not configured")
	}

	header := http.Header{}
	if r.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	conn, _, err := r.dialer.DialContext(ctx, r.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to recognition websocket: %w", err)
	}

	start := wsClientMessage{Type: "start", Language: r.cfg.Language, Format: r.cfg.Format}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send recognition start: %w", err)
	}

	s := &wsStream{
		conn:         conn,
		events:       make(chan speech.RecognitionEvent, 16),
		done:         make(chan struct{}),
		closeTimeout: r.cfg.CloseTimeout,
		logger:       r.logger,
	}
	go s.readLoop()
	return s, nil
}

type wsStream struct {
	conn         *websocket.Conn
	events       chan speech.RecognitionEvent
	done         chan struct{}
	closeTimeout time.Duration
	logger       *zap.Logger

	writeMu   sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func (s *wsStream) Events() <-chan speech.RecognitionEvent {
	return s.events
}

func (s *wsStream) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		var msg wsServerMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("recognition read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "result":
			s.events <- speech.RecognitionEvent{ResultIndex: msg.ResultIndex, Results: msg.Results}
		case "error":
			s.logger.Warn("recognition service error", zap.String("message", msg.Message))
		case "end":
			return
		}
	}
}

func (s *wsStream) Send(chunk []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return errors.New("recognition stream closed")
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// Close sends the end frame, waits briefly for trailing results and releases the connection.
func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.closed = true
		err = s.conn.WriteJSON(wsClientMessage{Type: "end"})
		s.writeMu.Unlock()

		timer := time.NewTimer(s.closeTimeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			s.logger.Debug("recognition close timed out")
		}
		s.conn.Close()
		<-s.done
	})
	return err
}
