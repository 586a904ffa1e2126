package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Supervisor   SupervisorConfig   `yaml:"supervisor"`
	Conversation ConversationConfig `yaml:"conversation"`
	Store        StoreConfig        `yaml:"store"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Includes     []string           `yaml:"includes,omitempty"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	Providers      []ProviderConfig     `yaml:"providers"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RateLimitConfig caps outbound requests per provider.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds credentials and transport settings for one provider
// type. Agents pick the model; Model here is only the fallback.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// ModelRef names a provider and model.
type ModelRef struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// SupervisorConfig selects the model that picks speakers and decides
// termination. Fallbacks are tried in order when the primary fails.
type SupervisorConfig struct {
	Provider    string     `yaml:"provider"`
	Model       string     `yaml:"model"`
	Temperature float64    `yaml:"temperature"`
	MaxTokens   int        `yaml:"max_tokens"`
	Fallbacks   []ModelRef `yaml:"fallbacks,omitempty"`
}

// RetryConfig is the bounded exponential backoff for supervisor calls.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// ConversationConfig tunes the orchestration loop.
type ConversationConfig struct {
	MaxTurns            int         `yaml:"max_turns"`
	Retry               RetryConfig `yaml:"retry"`
	ContextThreshold    int         `yaml:"context_threshold"`
	KeepRecent          int         `yaml:"keep_recent"`
	SummaryMaxTokens    int         `yaml:"summary_max_tokens"`
	TerminationWindow   int         `yaml:"termination_window"`
	Temperature         float64     `yaml:"temperature"`
	RecoveryTemperature float64     `yaml:"recovery_temperature"`
	DefaultMaxTokens    int         `yaml:"default_max_tokens"`
	Filler              string      `yaml:"filler"`
	// UserRoleNudgeProviders lists providers whose models disfavor
	// system-role messages mid-conversation.
	UserRoleNudgeProviders []string `yaml:"user_role_nudge_providers"`
}

// StoreConfig selects where personas and transcripts live.
type StoreConfig struct {
	Path       string `yaml:"path"`        // SQLite database file
	AgentsFile string `yaml:"agents_file"` // optional YAML roster
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Addr      string                 `yaml:"addr"`
	Auth      AuthConfig             `yaml:"auth"`
	RateLimit GatewayRateLimitConfig `yaml:"rate_limit"`
}

// GatewayRateLimitConfig throttles HTTP and WebSocket upgrades per client.
type GatewayRateLimitConfig struct {
	Enabled           bool     `yaml:"enabled"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
	TrustedProxies    []string `yaml:"trusted_proxies,omitempty"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// defaultDataDir returns the persistent data directory under $HOME/.chorus.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".chorus")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				Burst:             5,
			},
		},
		Supervisor: SupervisorConfig{
			Temperature: 0.2,
			MaxTokens:   500,
		},
		Conversation: ConversationConfig{
			MaxTurns: 10,
			Retry: RetryConfig{
				MaxRetries:   3,
				InitialDelay: time.Second,
				Multiplier:   2,
			},
			ContextThreshold:       10,
			KeepRecent:             5,
			SummaryMaxTokens:       300,
			TerminationWindow:      10,
			Temperature:            0.7,
			RecoveryTemperature:    0.8,
			DefaultMaxTokens:       1000,
			Filler:                 "Hey there!",
			UserRoleNudgeProviders: []string{"gemini", "ollama"},
		},
		Store: StoreConfig{
			Path: filepath.Join(defaultDataDir(), "chorus.db"),
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8790",
			RateLimit: GatewayRateLimitConfig{
				RequestsPerMinute: 120,
				Burst:             20,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// The main file takes precedence over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CHORUS_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps CHORUS_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHORUS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CHORUS_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CHORUS_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CHORUS_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("CHORUS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CHORUS_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("CHORUS_GATEWAY_TOKENS"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		for i, tok := range splitAndTrim(v, ",") {
			if tok == "" {
				continue
			}
			cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{
				Token: tok,
				Name:  "env-" + strconv.Itoa(i),
			})
		}
	}
	if v := os.Getenv("CHORUS_SUPERVISOR_PROVIDER"); v != "" {
		cfg.Supervisor.Provider = v
	}
	if v := os.Getenv("CHORUS_SUPERVISOR_MODEL"); v != "" {
		cfg.Supervisor.Model = v
	}
	if v := os.Getenv("CHORUS_CONVERSATION_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Conversation.MaxTurns = n
		}
	}
	if v := os.Getenv("CHORUS_CONVERSATION_USER_ROLE_NUDGE_PROVIDERS"); v != "" {
		cfg.Conversation.UserRoleNudgeProviders = splitAndTrim(v, ",")
	}

	// Per-provider API keys: CHORUS_LLM_PROVIDER_<NAME>_API_KEY. A key for a
	// provider type that is not listed adds it.
	listed := make(map[string]bool, len(cfg.LLM.Providers))
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		if p.Name == "" {
			p.Name = p.Type
		}
		if p.Type == "" {
			p.Type = p.Name
		}
		listed[p.Name] = true
		if v := os.Getenv("CHORUS_LLM_PROVIDER_" + strings.ToUpper(p.Name) + "_API_KEY"); v != "" {
			p.APIKey = v
		}
	}
	for _, typ := range []string{"openai", "anthropic", "gemini", "openrouter"} {
		if listed[typ] {
			continue
		}
		if v := os.Getenv("CHORUS_LLM_PROVIDER_" + strings.ToUpper(typ) + "_API_KEY"); v != "" {
			cfg.LLM.Providers = append(cfg.LLM.Providers, ProviderConfig{Name: typ, Type: typ, APIKey: v})
		}
	}
	if v := os.Getenv("CHORUS_LLM_PROVIDER_OLLAMA_BASE_URL"); v != "" && !listed["ollama"] {
		cfg.LLM.Providers = append(cfg.LLM.Providers, ProviderConfig{Name: "ollama", Type: "ollama", BaseURL: v})
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values in provider API keys and gateway
// tokens and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		key := cfg.LLM.Providers[i].APIKey
		if strings.HasPrefix(key, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
			}
			cfg.LLM.Providers[i].APIKey = decrypted
		}
	}

	for i := range cfg.Gateway.Auth.Tokens {
		tok := cfg.Gateway.Auth.Tokens[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("gateway auth token %s: %w", cfg.Gateway.Auth.Tokens[i].Name, err)
			}
			cfg.Gateway.Auth.Tokens[i].Token = decrypted
		}
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	salt, data, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	payload, err := hex.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, saltBytes)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(payload) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
