package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

// Analysis provider selection.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderDisabled  = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// WebSocket event stream (/ws).
	WSSendBuffer   int
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration
	WSMaxClients   int
	WSMaxReadBytes int64

	// Transcript analysis.
	AnalysisProvider string
	AnalysisModel    string
	AnalysisTimeout  time.Duration
	GeminiAPIKey     string
	AnthropicAPIKey  string

	// Outbound escalation calls (SIP trunk). Telephony runs in simulation
	// mode unless all three are set; handlers and the escalation engine
	// read the resolved TelephonyConfigured instead of re-checking env.
	SIPBaseURL       string
	SIPAPIKey        string
	SIPTrunkID       string
	TelephonyTimeout time.Duration

	// Escalation pacing.
	EscalationDedupWindow time.Duration
	SimulateDialDelay     time.Duration
	SimulateAnswerDelay   time.Duration
	ConnectSettleDelay    time.Duration

	// Optional Postgres archive. Empty DSN disables archiving.
	DatabaseURL string

	// Optional Slack webhook for terminal escalation outcomes.
	SlackWebhookURL string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

// TelephonyConfigured reports whether real outbound calls can be placed.
// Resolved once at load so every consumer agrees.
func (c Config) TelephonyConfigured() bool {
	return c.SIPBaseURL != "" && c.SIPAPIKey != "" && c.SIPTrunkID != ""
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("VILLAGE_ADDR", ":8000"),
		AuthMode:              AuthMode(envOr("VILLAGE_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:               make(map[string]struct{}),
		CORSAllowedOrigins:    make(map[string]struct{}),
		WSSendBuffer:          envIntOr("VILLAGE_WS_SEND_BUFFER", 64),
		WSPingInterval:        envDurationOr("VILLAGE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:        envDurationOr("VILLAGE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSMaxClients:          envIntOr("VILLAGE_WS_MAX_CLIENTS", 256),
		WSMaxReadBytes:        envInt64Or("VILLAGE_WS_MAX_READ_BYTES", 32*1024),
		AnalysisProvider:      envOr("VILLAGE_ANALYSIS_PROVIDER", ProviderDisabled),
		AnalysisModel:         strings.TrimSpace(os.Getenv("VILLAGE_ANALYSIS_MODEL")),
		AnalysisTimeout:       envDurationOr("VILLAGE_ANALYSIS_TIMEOUT", 30*time.Second),
		GeminiAPIKey:          strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		AnthropicAPIKey:       strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		SIPBaseURL:            strings.TrimSpace(os.Getenv("VILLAGE_SIP_BASE_URL")),
		SIPAPIKey:             strings.TrimSpace(os.Getenv("VILLAGE_SIP_API_KEY")),
		SIPTrunkID:            strings.TrimSpace(os.Getenv("VILLAGE_SIP_TRUNK_ID")),
		TelephonyTimeout:      envDurationOr("VILLAGE_SIP_TIMEOUT", 15*time.Second),
		EscalationDedupWindow: envDurationOr("VILLAGE_ESCALATION_DEDUP_WINDOW", 5*time.Minute),
		SimulateDialDelay:     envDurationOr("VILLAGE_SIMULATE_DIAL_DELAY", 2*time.Second),
		SimulateAnswerDelay:   envDurationOr("VILLAGE_SIMULATE_ANSWER_DELAY", 3*time.Second),
		ConnectSettleDelay:    envDurationOr("VILLAGE_CONNECT_SETTLE_DELAY", 5*time.Second),
		DatabaseURL:           strings.TrimSpace(os.Getenv("VILLAGE_DATABASE_URL")),
		SlackWebhookURL:       strings.TrimSpace(os.Getenv("VILLAGE_SLACK_WEBHOOK_URL")),
		ReadHeaderTimeout:     envDurationOr("VILLAGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:           envDurationOr("VILLAGE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:   envDurationOr("VILLAGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VILLAGE_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VILLAGE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("VILLAGE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.AnalysisProvider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, fmt.Errorf("GEMINI_API_KEY must be set when VILLAGE_ANALYSIS_PROVIDER=gemini")
		}
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return Config{}, fmt.Errorf("ANTHROPIC_API_KEY must be set when VILLAGE_ANALYSIS_PROVIDER=anthropic")
		}
	case ProviderDisabled:
	default:
		return Config{}, fmt.Errorf("VILLAGE_ANALYSIS_PROVIDER must be one of gemini|anthropic|disabled")
	}

	if cfg.WSSendBuffer <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_WS_SEND_BUFFER must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxClients <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_WS_MAX_CLIENTS must be > 0")
	}
	if cfg.WSMaxReadBytes <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_WS_MAX_READ_BYTES must be > 0")
	}
	if cfg.AnalysisTimeout <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_ANALYSIS_TIMEOUT must be > 0")
	}
	if cfg.TelephonyTimeout <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_SIP_TIMEOUT must be > 0")
	}
	if cfg.EscalationDedupWindow <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_ESCALATION_DEDUP_WINDOW must be > 0")
	}
	if cfg.SimulateDialDelay <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_SIMULATE_DIAL_DELAY must be > 0")
	}
	if cfg.SimulateAnswerDelay <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_SIMULATE_ANSWER_DELAY must be > 0")
	}
	if cfg.ConnectSettleDelay <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_CONNECT_SETTLE_DELAY must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VILLAGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VILLAGE_API_KEYS must be set when VILLAGE_AUTH_MODE=required")
	}

	// Partial SIP credentials are a misconfiguration, not simulation mode.
	partial := cfg.SIPBaseURL != "" || cfg.SIPAPIKey != "" || cfg.SIPTrunkID != ""
	if partial && !cfg.TelephonyConfigured() {
		return Config{}, fmt.Errorf("VILLAGE_SIP_BASE_URL, VILLAGE_SIP_API_KEY and VILLAGE_SIP_TRUNK_ID must be set together")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
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
