package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Environment   string              `json:"environment"`
	Server        ServerConfig        `json:"server"`
	DocumentAPI   DocumentAPIConfig   `json:"document_api"`
	Workflow      WorkflowConfig      `json:"workflow"`
	Projection    ProjectionConfig    `json:"projection"`
	Security      SecurityConfig      `json:"security"`
	Logging       LoggingConfig       `json:"logging"`
	Notifications NotificationsConfig `json:"notifications"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

// DocumentAPIConfig points at the external eTMF REST API
type DocumentAPIConfig struct {
	BaseURL string        `json:"base_url"`
	Token   string        `json:"token"`
	Timeout time.Duration `json:"timeout"`
}

// WorkflowConfig selects the policy table. ApprovalFinalizes, when set,
// overrides the value in the policy file.
type WorkflowConfig struct {
	PolicyFile        string `json:"policy_file"`
	ApprovalFinalizes *bool  `json:"approval_finalizes,omitempty"`
}

// ProjectionConfig controls the local document projections
type ProjectionConfig struct {
	TTL            time.Duration `json:"ttl"`
	PanelTimeout   time.Duration `json:"panel_timeout"`
	ResyncSchedule string        `json:"resync_schedule"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// NotificationsConfig enables SNS fan-out when TopicARN is set
type NotificationsConfig struct {
	SNSTopicARN string `json:"sns_topic_arn"`
	AWSRegion   string `json:"aws_region"`
}

// LoadConfig loads configuration from file and environment variables. A .env
// file in the working directory is read first when present.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := Default()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		DocumentAPI: DocumentAPIConfig{
			BaseURL: "http://localhost:3000",
			Timeout: 15 * time.Second,
		},
		Projection: ProjectionConfig{
			TTL:            10 * time.Minute,
			PanelTimeout:   5 * time.Second,
			ResyncSchedule: "@every 1m",
		},
		Security: SecurityConfig{
			JWTIssuer: "etmf-portal",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Notifications: NotificationsConfig{
			AWSRegion: "us-east-1",
		},
	}
}

func overrideWithEnv(config *Config) error {
	if env := os.Getenv("APP_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", port, err)
		}
		config.Server.Port = p
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = splitList(origins)
	}
	if base := os.Getenv("ETMF_API_BASE_URL"); base != "" {
		config.DocumentAPI.BaseURL = base
	}
	if token := os.Getenv("ETMF_API_TOKEN"); token != "" {
		config.DocumentAPI.Token = token
	}
	if err := envDuration("ETMF_API_TIMEOUT", &config.DocumentAPI.Timeout); err != nil {
		return err
	}
	if path := os.Getenv("WORKFLOW_POLICY_FILE"); path != "" {
		config.Workflow.PolicyFile = path
	}
	if raw := os.Getenv("WORKFLOW_APPROVAL_FINALIZES"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid WORKFLOW_APPROVAL_FINALIZES %q: %w", raw, err)
		}
		config.Workflow.ApprovalFinalizes = &v
	}
	if err := envDuration("PROJECTION_TTL", &config.Projection.TTL); err != nil {
		return err
	}
	if schedule := os.Getenv("RESYNC_SCHEDULE"); schedule != "" {
		config.Projection.ResyncSchedule = schedule
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
	if issuer, ok := os.LookupEnv("JWT_ISSUER"); ok {
		config.Security.JWTIssuer = issuer
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if arn := os.Getenv("SNS_TOPIC_ARN"); arn != "" {
		config.Notifications.SNSTopicARN = arn
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.Notifications.AWSRegion = region
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = d
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	if c.DocumentAPI.BaseURL == "" {
		return fmt.Errorf("document_api.base_url is required")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required (set JWT_SECRET)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	return nil
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
