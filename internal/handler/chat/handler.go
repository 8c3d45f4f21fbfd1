package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/model/speech"
	"github.com/zhouzirui/azmth/pkg/utils"
)

const maxUploadBytes = 32 << 20

// Responder 生成本地聊天接口的回复文本
type Responder interface {
	ReplyText(ctx context.Context, message string) (string, error)
	ReplyVoice(ctx context.Context, transcript string, upload speech.Upload) (string, error)
}

// Handler 本地聊天接口的HTTP处理器
type Handler struct {
	responder Responder
	logger    *zap.Logger
}

// New 创建聊天处理器
func New(responder Responder, logger *zap.Logger) *Handler {
	return &Handler{
		responder: responder,
		logger:    logging.OrNop(logger).Named("chat"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

type chatResponse struct {
	Response string `json:"response"`
}

// handleChat 处理文本(JSON)或语音(multipart)消息
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")

	var (
		reply string
		err   error
	)
	switch {
	case strings.Contains(contentType, "multipart/form-data"):
		reply, err = h.handleVoice(w, r)
	case strings.Contains(contentType, "application/json"):
		reply, err = h.handleText(w, r)
	default:
		utils.RespondError(w, http.StatusUnsupportedMediaType, "Unsupported content type")
		return
	}

	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		utils.RespondError(w, http.StatusBadRequest, reqErr.message)
	case err != nil:
		h.logger.Error("error processing chat request", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "An error occurred while processing your request")
	default:
		utils.RespondJSON(w, http.StatusOK, chatResponse{Response: reply})
	}
}

func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", err
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", &requestError{message: "Audio file is missing"}
	}
	file.Close()

	transcript := r.FormValue("transcript")
	if transcript == "" {
		return "", &requestError{message: "Transcript is missing"}
	}

	upload := speech.Upload{
		Filename: header.Filename,
		Size:     header.Size,
		MimeType: header.Header.Get("Content-Type"),
	}
	h.logger.Info("received voice message",
		zap.String("file", upload.Filename),
		zap.Int64("bytes", upload.Size),
		zap.String("transcript", transcript))

	return h.responder.ReplyVoice(r.Context(), transcript, upload)
}

func (h *Handler) handleText(_ http.ResponseWriter, r *http.Request) (string, error) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Message == "" {
		return "", &requestError{message: "Message is missing"}
	}
	return h.responder.ReplyText(r.Context(), payload.Message)
}

type requestError struct {
	message string
}

func (e *requestError) Error() string { return e.message }
