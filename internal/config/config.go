package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	defaultContactIndex = "contactId-index"
	defaultTTLHours     = 168
	defaultChatMinutes  = 1440

	// Amazon Connect accepts chat durations between one hour and seven days.
	minChatMinutes = 60
	maxChatMinutes = 10080
)

// Config is read from the environment once, at cold start.
type Config struct {
	SessionTable        string
	ContactIndex        string
	ParamPrefix         string
	SessionTTL          time.Duration
	ChatDurationMinutes int32
	LogLevel            string
	SMSGatewayURL       string
	// AWSEndpointURL points every SDK client at LocalStack when set.
	AWSEndpointURL string
}

func Load() (*Config, error) {
	// .env is optional outside local runs
	_ = godotenv.Load()

	cfg := &Config{
		SessionTable:   strings.TrimSpace(os.Getenv("SESSION_TABLE")),
		ContactIndex:   getEnv("SESSION_CONTACT_INDEX", defaultContactIndex),
		ParamPrefix:    strings.TrimSpace(os.Getenv("PARAM_PREFIX")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		SMSGatewayURL:  strings.TrimSpace(os.Getenv("SMS_GATEWAY_URL")),
		AWSEndpointURL: strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL")),
	}

	var missing []string
	if cfg.SessionTable == "" {
		missing = append(missing, "SESSION_TABLE")
	}
	if cfg.ParamPrefix == "" {
		missing = append(missing, "PARAM_PREFIX")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: required environment variables not set: %s", strings.Join(missing, ", "))
	}

	ttlHours, err := envInt("SESSION_TTL_HOURS", defaultTTLHours)
	if err != nil {
		return nil, err
	}
	cfg.SessionTTL = time.Duration(ttlHours) * time.Hour

	chatMinutes, err := envInt("CHAT_DURATION_MINUTES", defaultChatMinutes)
	if err != nil {
		return nil, err
	}
	if chatMinutes < minChatMinutes || chatMinutes > maxChatMinutes {
		return nil, fmt.Errorf("config: CHAT_DURATION_MINUTES must be between %d and %d, got %d", minChatMinutes, maxChatMinutes, chatMinutes)
	}
	cfg.ChatDurationMinutes = int32(chatMinutes)
	return cfg, nil
}

// NewLogger returns a JSON logger at the configured level, falling back to
// info when the level is not recognised.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	SetLogLevel(logger, level)
	return logger
}

func SetLogLevel(logger *logrus.Logger, level string) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		logger.WithField("level", level).Warn("unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
}

// AWS loads the default SDK config, overriding the endpoint for local runs.
func (c *Config) AWS(ctx context.Context) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("config: load aws config: %w", err)
	}
	if c.AWSEndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(c.AWSEndpointURL)
	}
	return awsCfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, v)
	}
	return n, nil
}
