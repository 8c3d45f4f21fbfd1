package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Backend names the conversation API the client talks to.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

// Config 聚合客户端与本地服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Client  ClientConfig
	Audio   AudioConfig
	History HistoryConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Client:  client,
		Audio:   loadAudioConfig(),
		History: HistoryConfig{Path: getEnvOrDefault("AZMTH_HISTORY_DB", "")},
		Log:     LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info")},
	}, nil
}

// ServerConfig 描述本地 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	SystemPrompt string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("Model")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		SystemPrompt: getEnvOrDefault("ARK_SYSTEM_PROMPT", ""),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
	}, nil
}

// ClientConfig 描述终端客户端连接哪个对话后端。
type ClientConfig struct {
	Backend        Backend
	LocalURL       string
	RemoteURL      string
	RemoteAPIKey   string
	RequestTimeout time.Duration
	Retries        uint64
	VoicePriority  bool
}

func loadClientConfig() (ClientConfig, error) {
	backend := Backend(strings.ToLower(getEnvOrDefault("AZMTH_BACKEND", string(BackendLocal))))
	if backend != BackendLocal && backend != BackendRemote {
		return ClientConfig{}, fmt.Errorf("invalid AZMTH_BACKEND value %q: want local or remote", backend)
	}

	timeout := 30 * time.Second
	if raw := strings.TrimSpace(os.Getenv("AZMTH_REQUEST_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid AZMTH_REQUEST_TIMEOUT value %q: %w", raw, err)
		}
		timeout = parsed
	}

	var retries uint64
	if override, err := parseOptionalIntEnv("AZMTH_RETRIES"); err != nil {
		return ClientConfig{}, err
	} else if override != nil && *override > 0 {
		retries = uint64(*override)
	}

	voice, err := parseBoolEnv("AZMTH_VOICE_PRIORITY", false)
	if err != nil {
		return ClientConfig{}, err
	}

	return ClientConfig{
		Backend:        backend,
		LocalURL:       getEnvOrDefault("AZMTH_LOCAL_URL", "http://localhost:8080"),
		RemoteURL:      getEnvOrDefault("AZMTH_REMOTE_URL", ""),
		RemoteAPIKey:   getEnvOrDefault("AZMTH_REMOTE_API_KEY", ""),
		RequestTimeout: timeout,
		Retries:        retries,
		VoicePriority:  voice,
	}, nil
}

// AudioConfig 描述麦克风、播放与语音识别适配器。空命令表示使用默认的 ffmpeg/ffplay。
type AudioConfig struct {
	MicCommand    string
	PlayerCommand string
	TTSCommand    string
	ASRURL        string
	ASRToken      string
	ASRLanguage   string
}

func loadAudioConfig() AudioConfig {
	return AudioConfig{
		MicCommand:    getEnvOrDefault("AZMTH_MIC_COMMAND", ""),
		PlayerCommand: getEnvOrDefault("AZMTH_PLAYER_COMMAND", ""),
		TTSCommand:    getEnvOrDefault("AZMTH_TTS_COMMAND", ""),
		ASRURL:        getEnvOrDefault("AZMTH_ASR_URL", ""),
		ASRToken:      getEnvOrDefault("AZMTH_ASR_TOKEN", ""),
		ASRLanguage:   getEnvOrDefault("AZMTH_ASR_LANGUAGE", "en-US"),
	}
}

// HistoryConfig 描述本地聊天记录数据库；Path 为空时不持久化。
type HistoryConfig struct {
	Path string
}

// LogConfig 描述日志级别。
type LogConfig struct {
	Level string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
