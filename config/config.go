// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Required credentials (YouTube OAuth client, source URL) are checked by Validate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// HardBroadcastLimit is the platform's maximum continuous broadcast length.
// Rotation must always complete with margin to spare before this.
const HardBroadcastLimit = 12 * time.Hour

type Config struct {
	// Video source
	SourceURL string

	// YouTube OAuth
	YTClientID     string
	YTClientSecret string
	YTRedirectURI  string
	YTScopes       string
	TokenFile      string
	// TokenEncKey, when set, encrypts the token file at rest (base64, 32
	// bytes).
	TokenEncKey string

	// Broadcast
	TitleTemplate string
	Description   string
	Privacy       string
	Timezone      string

	// Rotation policy
	StreamDuration  time.Duration
	HandoffLeadTime time.Duration
	TickInterval    time.Duration

	// Agent supervision
	AgentImage     string
	AgentStopGrace time.Duration
	MaxRestarts    int
	RestartWindow  time.Duration

	// Persistence
	StateFile string
}

// Load reads environment variables and applies defaults. It does not fail when
// credentials are missing; use Validate when starting the controller proper so
// helper binaries (authsetup, checksource) can load partial config.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.SourceURL = os.Getenv("SOURCE_URL")
	if cfg.SourceURL == "" {
		// legacy name from the RTSP-only days
		cfg.SourceURL = os.Getenv("RTSP_URL")
	}

	cfg.YTClientID = os.Getenv("YT_CLIENT_ID")
	cfg.YTClientSecret = os.Getenv("YT_CLIENT_SECRET")
	cfg.YTRedirectURI = os.Getenv("YT_REDIRECT_URI")
	if cfg.YTRedirectURI == "" {
		cfg.YTRedirectURI = "http://localhost:8089/callback"
	}
	cfg.YTScopes = os.Getenv("YT_SCOPES")
	if cfg.YTScopes == "" {
		cfg.YTScopes = "https://www.googleapis.com/auth/youtube https://www.googleapis.com/auth/youtube.force-ssl"
	}
	cfg.TokenFile = os.Getenv("TOKEN_FILE")
	if cfg.TokenFile == "" {
		cfg.TokenFile = "data/token.json"
	}
	cfg.TokenEncKey = os.Getenv("TOKEN_ENC_KEY")

	cfg.TitleTemplate = os.Getenv("STREAM_TITLE_TEMPLATE")
	if cfg.TitleTemplate == "" {
		cfg.TitleTemplate = "Camera Live - {datetime}"
	}
	cfg.Description = os.Getenv("STREAM_DESCRIPTION")
	if cfg.Description == "" {
		cfg.Description = "24/7 camera livestream"
	}
	cfg.Privacy = os.Getenv("PRIVACY_STATUS")
	if cfg.Privacy == "" {
		cfg.Privacy = "public"
	}
	cfg.Timezone = os.Getenv("TIMEZONE")
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	var err error
	if cfg.StreamDuration, err = envDuration("STREAM_DURATION", 10*time.Hour); err != nil {
		return nil, err
	}
	if cfg.HandoffLeadTime, err = envDuration("HANDOFF_LEAD_TIME", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TickInterval, err = envDuration("TICK_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.AgentImage = os.Getenv("AGENT_IMAGE")
	if cfg.AgentImage == "" {
		cfg.AgentImage = "linuxserver/ffmpeg:latest"
	}
	if cfg.AgentStopGrace, err = envDuration("AGENT_STOP_GRACE", 10*time.Second); err != nil {
		return nil, err
	}
	cfg.MaxRestarts = 5
	if s := os.Getenv("AGENT_MAX_RESTARTS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.MaxRestarts = n
		}
	}
	if cfg.RestartWindow, err = envDuration("AGENT_RESTART_WINDOW", 10*time.Minute); err != nil {
		return nil, err
	}

	cfg.StateFile = os.Getenv("STATE_FILE")
	if cfg.StateFile == "" {
		cfg.StateFile = "data/controller-state.json"
	}

	return cfg, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (want Go duration, e.g. 10h): %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

// Validate checks the fields required to run the rotation controller.
func (c *Config) Validate() error {
	var missing []string
	if c.SourceURL == "" {
		missing = append(missing, "SOURCE_URL")
	}
	if c.YTClientID == "" {
		missing = append(missing, "YT_CLIENT_ID")
	}
	if c.YTClientSecret == "" {
		missing = append(missing, "YT_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}
	if c.StreamDuration+c.HandoffLeadTime >= HardBroadcastLimit {
		return fmt.Errorf("STREAM_DURATION (%s) + HANDOFF_LEAD_TIME (%s) must stay under the %s platform limit",
			c.StreamDuration, c.HandoffLeadTime, HardBroadcastLimit)
	}
	if c.HandoffLeadTime >= c.StreamDuration {
		return fmt.Errorf("HANDOFF_LEAD_TIME (%s) must be smaller than STREAM_DURATION (%s)",
			c.HandoffLeadTime, c.StreamDuration)
	}
	return nil
}

// MaskURL hides credentials embedded in a source URL for logging.
func MaskURL(u string) string {
	at := strings.LastIndex(u, "@")
	if at < 0 {
		return u
	}
	scheme := ""
	if i := strings.Index(u, "://"); i >= 0 {
		scheme = u[:i+3]
	}
	return scheme + "****:****" + u[at:]
}
