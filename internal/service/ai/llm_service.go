package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/config"
	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/model/speech"
)

const defaultSystemPrompt = "You are Azmth, a concise and friendly assistant. " +
	"Answer the user's latest message directly. When the message came from a voice recording, " +
	"treat the transcript as what the user said."

// Service answers local chat turns through an Ark chat model.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	system    string
	logger    *zap.Logger
}

// NewService creates the chat chain: system prompt, user turn, model.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return newServiceWithModel(ctx, chatModel, cfg.SystemPrompt, logger)
}

func newServiceWithModel(ctx context.Context, chatModel model.ChatModel, system string, logger *zap.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		system:    system,
		logger:    logging.OrNop(logger).Named("ai"),
	}, nil
}

// ReplyText answers a typed message.
func (s *Service) ReplyText(ctx context.Context, message string) (string, error) {
	return s.invoke(ctx, message)
}

// ReplyVoice answers a voice message using its transcript.
func (s *Service) ReplyVoice(ctx context.Context, transcript string, upload speech.Upload) (string, error) {
	query := fmt.Sprintf("[voice message %s, %d bytes] %s", upload.Filename, upload.Size, transcript)
	return s.invoke(ctx, query)
}

func (s *Service) invoke(ctx context.Context, query string) (string, error) {
	input := map[string]any{
		"system": s.system,
		"query":  query,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	content := strings.TrimSpace(response.Content)
	if content == "" {
		return "", fmt.Errorf("model returned an empty reply")
	}

	s.logger.Debug("generated reply", zap.Int("length", len(content)))
	return content, nil
}
