package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"busbot/internal/logger"
)

const (
	defaultPort          = 5000
	defaultRTPIBaseURL   = "https://data.dublinked.ie/cgi-bin/rtpi"
	defaultGraphBaseURL  = "https://graph.facebook.com"
	defaultGraphVersion  = "v2.6"
	defaultClientTimeout = 10 * time.Second
	defaultLedgerTTL     = 24 * time.Hour
)

// Config is the root runtime configuration. Values come from an optional YAML
// file, then environment variables, then defaults.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       logger.Config   `yaml:"log"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	RTPI      RTPIConfig      `yaml:"rtpi"`
	Messenger MessengerConfig `yaml:"messenger"`
	Ledger    LedgerConfig    `yaml:"ledger"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"gt=0,lte=65535"`
}

// SecretsConfig names where the Messenger tokens live. With ParamPrefix set
// they are read from SSM; otherwise the literal values are used.
type SecretsConfig struct {
	ParamPrefix string `yaml:"param_prefix"`
	VerifyToken string `yaml:"verify_token" validate:"required_without=ParamPrefix"`
	AccessToken string `yaml:"access_token" validate:"required_without=ParamPrefix"`
	AppSecret   string `yaml:"app_secret"`
	// VerifySignatures turns on X-Hub-Signature-256 checks. When unset it
	// follows whether a literal AppSecret is present.
	VerifySignatures *bool `yaml:"verify_signatures"`
}

// SignaturesEnabled reports whether notifications must carry a valid
// X-Hub-Signature-256.
func (s SecretsConfig) SignaturesEnabled() bool {
	return s.VerifySignatures != nil && *s.VerifySignatures
}

type RTPIConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type MessengerConfig struct {
	BaseURL    string        `yaml:"base_url" validate:"required,url"`
	APIVersion string        `yaml:"api_version" validate:"required"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
}

// LedgerConfig enables the DynamoDB delivery ledger when Table is set.
type LedgerConfig struct {
	Table string        `yaml:"table"`
	TTL   time.Duration `yaml:"ttl" validate:"gte=0"`
}

// UsesAWS reports whether any AWS-backed component is configured.
func (c *Config) UsesAWS() bool {
	return c.Secrets.ParamPrefix != "" || c.Ledger.Table != ""
}

// Load reads path (when non-empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRTPI resolves only the transit settings, for tools that never talk to
// Messenger and so carry no tokens.
func LoadRTPI(path string) (RTPIConfig, error) {
	cfg, err := read(path)
	if err != nil {
		return RTPIConfig{}, err
	}
	if err := validator.New().Struct(cfg.RTPI); err != nil {
		return RTPIConfig{}, validationError(err)
	}
	return cfg.RTPI, nil
}

func read(path string) (*Config, error) {
	var cfg Config
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Secrets.ParamPrefix, "PARAM_PREFIX")
	setString(&cfg.Secrets.VerifyToken, "FB_VERIFY_TOKEN")
	setString(&cfg.Secrets.AccessToken, "FB_ACCESS_TOKEN")
	setString(&cfg.Secrets.AppSecret, "FB_APP_SECRET")
	setString(&cfg.RTPI.BaseURL, "RTPI_BASE_URL")
	setString(&cfg.Messenger.BaseURL, "GRAPH_BASE_URL")
	setString(&cfg.Messenger.APIVersion, "GRAPH_API_VERSION")
	setString(&cfg.Ledger.Table, "DEDUP_TABLE")

	if v := strings.TrimSpace(os.Getenv("FB_VERIFY_SIGNATURES")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: FB_VERIFY_SIGNATURES: %w", err)
		}
		cfg.Secrets.VerifySignatures = &b
	}
	if err := setInt(&cfg.Server.Port, "PORT"); err != nil {
		return err
	}
	for key, dst := range map[string]*time.Duration{
		"RTPI_TIMEOUT":  &cfg.RTPI.Timeout,
		"GRAPH_TIMEOUT": &cfg.Messenger.Timeout,
		"DEDUP_TTL":     &cfg.Ledger.TTL,
	} {
		if err := setDuration(dst, key); err != nil {
			return err
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	cfg.Secrets.ParamPrefix = strings.TrimRight(cfg.Secrets.ParamPrefix, "/")
	if cfg.Secrets.VerifySignatures == nil {
		enabled := cfg.Secrets.AppSecret != ""
		cfg.Secrets.VerifySignatures = &enabled
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = logger.FormatJSON
	}
	if cfg.RTPI.BaseURL == "" {
		cfg.RTPI.BaseURL = defaultRTPIBaseURL
	}
	if cfg.RTPI.Timeout == 0 {
		cfg.RTPI.Timeout = defaultClientTimeout
	}
	if cfg.Messenger.BaseURL == "" {
		cfg.Messenger.BaseURL = defaultGraphBaseURL
	}
	if cfg.Messenger.APIVersion == "" {
		cfg.Messenger.APIVersion = defaultGraphVersion
	}
	if cfg.Messenger.Timeout == 0 {
		cfg.Messenger.Timeout = defaultClientTimeout
	}
	if cfg.Ledger.TTL == 0 {
		cfg.Ledger.TTL = defaultLedgerTTL
	}
}

func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return validationError(err)
	}
	if cfg.Secrets.SignaturesEnabled() && cfg.Secrets.ParamPrefix == "" && cfg.Secrets.AppSecret == "" {
		return errors.New("config: signature verification needs an app secret or a parameter prefix")
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("config: invalid %s (%s)", verrs[0].Namespace(), verrs[0].Tag())
	}
	return fmt.Errorf("config: %w", err)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
