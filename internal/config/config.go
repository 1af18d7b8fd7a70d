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

	"github.com/zhouzirui/mockchat/backend/internal/connection"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Reply     ReplyConfig
	AI        AIConfig
	Status    connection.Config
	RateLimit RateLimitConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	reply, err := loadReplyConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	status, err := loadStatusConfig()
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Reply: reply, AI: ai, Status: status, RateLimit: rateLimit}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	Env  string
}

// IsDevelopment 表示是否以开发模式运行（控制台日志）。
func (c ServerConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	env := getEnvOrDefault("APP_ENV", "development")

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, Env: env}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, Env: env}, nil
}

// ReplyConfig 描述模拟回复的延迟与故障注入。
type ReplyConfig struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64
}

func loadReplyConfig() (ReplyConfig, error) {
	minLatency, err := parseDurationEnv("REPLY_MIN_LATENCY", time.Second)
	if err != nil {
		return ReplyConfig{}, err
	}

	maxLatency, err := parseDurationEnv("REPLY_MAX_LATENCY", 3*time.Second)
	if err != nil {
		return ReplyConfig{}, err
	}
	if maxLatency < minLatency {
		return ReplyConfig{}, fmt.Errorf("REPLY_MAX_LATENCY (%s) is below REPLY_MIN_LATENCY (%s)", maxLatency, minLatency)
	}

	failureRate, err := parseProbabilityEnv("REPLY_FAILURE_RATE", 0)
	if err != nil {
		return ReplyConfig{}, err
	}

	return ReplyConfig{MinLatency: minLatency, MaxLatency: maxLatency, FailureRate: failureRate}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
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
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func loadStatusConfig() (connection.Config, error) {
	cfg := connection.DefaultConfig()
	var err error

	if cfg.ConnectDelay, err = parseDurationEnv("STATUS_CONNECT_DELAY", cfg.ConnectDelay); err != nil {
		return connection.Config{}, err
	}
	if cfg.ReconnectDelay, err = parseDurationEnv("STATUS_RECONNECT_DELAY", cfg.ReconnectDelay); err != nil {
		return connection.Config{}, err
	}
	if cfg.PollInterval, err = parseDurationEnv("STATUS_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return connection.Config{}, err
	}
	if cfg.FailureProbability, err = parseProbabilityEnv("STATUS_FAILURE_PROBABILITY", cfg.FailureProbability); err != nil {
		return connection.Config{}, err
	}
	if cfg.DisconnectProbability, err = parseProbabilityEnv("STATUS_DISCONNECT_PROBABILITY", cfg.DisconnectProbability); err != nil {
		return connection.Config{}, err
	}
	return cfg, nil
}

// RateLimitConfig 描述 /api/chat/send 的按 IP 限流。
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Enabled 表示是否开启限流。
func (c RateLimitConfig) Enabled() bool {
	return c.RPS > 0 && c.Burst > 0
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	cfg := RateLimitConfig{RPS: 2, Burst: 5}

	rps, err := parseOptionalFloatEnv("RATE_LIMIT_RPS")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if rps != nil {
		cfg.RPS = *rps
	}

	burst, err := parseOptionalIntEnv("RATE_LIMIT_BURST")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if burst != nil {
		cfg.Burst = *burst
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseProbabilityEnv(key string, defaultValue float64) (float64, error) {
	val, err := parseOptionalFloatEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < 0 || *val > 1 {
		return 0, fmt.Errorf("invalid %s value %v: must be within [0, 1]", key, *val)
	}
	return *val, nil
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
