package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultModel       = "gemini-2.0-flash-exp"
	DefaultBackupModel = "gemini-1.5-flash"
)

type Config struct {
	Addr string

	GeminiAPIKey string

	// Model every new session starts on, and the one switch_model falls
	// back to when the client names none.
	DefaultModel string
	BackupModel  string

	// Generation shape.
	HistoryTurns    int
	MaxOutputTokens int
	Temperature     float64
	GenerateTimeout time.Duration

	// Optional YAML file overriding the built-in persona catalog.
	PersonaFile string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Chat WebSocket (/ws).
	WSMaxMessageBytes int64
	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration
	WSReadTimeout     time.Duration

	// Per-client admission on /ws; zero disables a limit.
	WSUpgradesPerSecond    float64
	WSUpgradeBurst         int
	WSMaxSessionsPerClient int

	// HTTP server timeouts.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VAI_VOICE_ADDR", defaultAddr()),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		DefaultModel:        envOr("VAI_VOICE_DEFAULT_MODEL", DefaultModel),
		BackupModel:         envOr("VAI_VOICE_BACKUP_MODEL", DefaultBackupModel),
		HistoryTurns:        envIntOr("VAI_VOICE_HISTORY_TURNS", 6),
		MaxOutputTokens:     envIntOr("VAI_VOICE_MAX_OUTPUT_TOKENS", 150),
		Temperature:         envFloat64Or("VAI_VOICE_TEMPERATURE", 0.7),
		GenerateTimeout:     envDurationOr("VAI_VOICE_GENERATE_TIMEOUT", 30*time.Second),
		PersonaFile:         envOr("VAI_VOICE_PERSONA_FILE", ""),
		CORSAllowedOrigins:  make(map[string]struct{}),
		WSMaxMessageBytes:   envInt64Or("VAI_VOICE_WS_MAX_MESSAGE_BYTES", 64*1024),
		WSPingInterval:      envDurationOr("VAI_VOICE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("VAI_VOICE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:       envDurationOr("VAI_VOICE_WS_READ_TIMEOUT", 0),

		WSUpgradesPerSecond:    envFloat64Or("VAI_VOICE_WS_UPGRADES_PER_SECOND", 1),
		WSUpgradeBurst:         envIntOr("VAI_VOICE_WS_UPGRADE_BURST", 5),
		WSMaxSessionsPerClient: envIntOr("VAI_VOICE_WS_MAX_SESSIONS_PER_CLIENT", 4),

		ReadHeaderTimeout:   envDurationOr("VAI_VOICE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VAI_VOICE_SHUTDOWN_GRACE", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VAI_VOICE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(c.DefaultModel) == "" {
		return fmt.Errorf("VAI_VOICE_DEFAULT_MODEL must not be empty")
	}
	if strings.TrimSpace(c.BackupModel) == "" {
		return fmt.Errorf("VAI_VOICE_BACKUP_MODEL must not be empty")
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("VAI_VOICE_HISTORY_TURNS must be >= 0")
	}
	if c.MaxOutputTokens <= 0 {
		return fmt.Errorf("VAI_VOICE_MAX_OUTPUT_TOKENS must be > 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("VAI_VOICE_TEMPERATURE must be within [0, 2]")
	}
	if c.GenerateTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_GENERATE_TIMEOUT must be > 0")
	}
	if c.WSMaxMessageBytes <= 0 {
		return fmt.Errorf("VAI_VOICE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if c.WSPingInterval <= 0 {
		return fmt.Errorf("VAI_VOICE_WS_PING_INTERVAL must be > 0")
	}
	if c.WSWriteTimeout <= 0 {
		return fmt.Errorf("VAI_VOICE_WS_WRITE_TIMEOUT must be > 0")
	}
	if c.WSReadTimeout < 0 {
		return fmt.Errorf("VAI_VOICE_WS_READ_TIMEOUT must be >= 0")
	}
	if c.WSUpgradesPerSecond < 0 || c.WSUpgradeBurst < 0 || c.WSMaxSessionsPerClient < 0 {
		return fmt.Errorf("VAI_VOICE_WS_UPGRADES_PER_SECOND, VAI_VOICE_WS_UPGRADE_BURST and VAI_VOICE_WS_MAX_SESSIONS_PER_CLIENT must be >= 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("VAI_VOICE_SHUTDOWN_GRACE must be > 0")
	}
	return nil
}

// defaultAddr honours the conventional PORT variable used by hosting
// platforms when VAI_VOICE_ADDR is unset.
func defaultAddr() string {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		return ":" + port
	}
	return ":3000"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
