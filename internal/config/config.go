// Package config loads daemon configuration from the process environment.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all runtime configuration for the daemon.
type Config struct {
	// LLMAPIKey authenticates against the summarization provider.
	LLMAPIKey string
	// TranscriptionAPIKey authenticates against the transcription provider.
	// May equal LLMAPIKey when both run through the same provider.
	TranscriptionAPIKey string
	// DatabaseURL is a Postgres connection string consumed by lib/pq.
	DatabaseURL string
	// CookiesPath, if set, is passed to the downloader for age/region gated videos.
	CookiesPath string
	// SentryDSN, if set, enables error reporting.
	SentryDSN string

	// MaxStreamsPerRun bounds how many new candidates one run processes.
	MaxStreamsPerRun int
	// CronSchedule is a seconds-resolution robfig/cron expression.
	CronSchedule string
	// ScratchRoot is the base directory for per-run scratch subdirectories.
	ScratchRoot string
	// ChunkTokenWindow bounds the token budget of a single summarization chunk.
	ChunkTokenWindow int
	// ChunkConcurrency bounds parallel map-phase summarization calls.
	ChunkConcurrency int
	// Timezone names the IANA zone the cron schedule is evaluated in.
	Timezone string

	// ListenAddr is the address the status/metrics HTTP server binds to.
	ListenAddr string
	// LogLevel is a zerolog level string.
	LogLevel string

	// GenerateTimestamps is parsed from BUNGEBITS_GENERATE_TIMESTAMPS; no
	// component reads it, and timestamp_md is never generated.
	GenerateTimestamps bool

	// ChannelIDs lists the YouTube channel handles the scraper polls.
	ChannelIDs []string
}

// ErrMissingRequired is returned when a required field has no value.
var ErrMissingRequired = errors.New("missing required configuration")

// Load builds a Config from environment variables, applying defaults for
// optional fields. It returns ErrMissingRequired wrapped with the offending
// field name when a required value is absent.
func Load() (Config, error) {
	cfg := Config{
		LLMAPIKey:           ParseString("BUNGEBITS_LLM_API_KEY", ""),
		TranscriptionAPIKey: ParseString("BUNGEBITS_TRANSCRIPTION_API_KEY", ""),
		DatabaseURL:         ParseString("BUNGEBITS_DATABASE_URL", ""),
		CookiesPath:         ParseString("BUNGEBITS_COOKIES_PATH", ""),
		SentryDSN:           ParseString("BUNGEBITS_SENTRY_DSN", ""),

		MaxStreamsPerRun: ParseInt("BUNGEBITS_MAX_STREAMS_PER_RUN", 3),
		CronSchedule:     ParseString("BUNGEBITS_CRON_SCHEDULE", "0 0 */4 * * *"),
		ScratchRoot:      ParseString("BUNGEBITS_SCRATCH_ROOT", "/var/tmp/bunge-bits"),
		ChunkTokenWindow: ParseInt("BUNGEBITS_CHUNK_TOKEN_WINDOW", 6000),
		ChunkConcurrency: ParseInt("BUNGEBITS_CHUNK_CONCURRENCY", 4),
		Timezone:         ParseString("BUNGEBITS_TIMEZONE", "Africa/Nairobi"),

		ListenAddr: ParseString("BUNGEBITS_LISTEN_ADDR", ":8080"),
		LogLevel:   ParseString("BUNGEBITS_LOG_LEVEL", "info"),

		GenerateTimestamps: ParseBool("BUNGEBITS_GENERATE_TIMESTAMPS", false),

		ChannelIDs: splitNonEmpty(ParseString("BUNGEBITS_CHANNEL_IDS", "")),
	}

	if cfg.TranscriptionAPIKey == "" {
		cfg.TranscriptionAPIKey = cfg.LLMAPIKey
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	required := map[string]string{
		"BUNGEBITS_LLM_API_KEY":  c.LLMAPIKey,
		"BUNGEBITS_DATABASE_URL": c.DatabaseURL,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%w: %s", ErrMissingRequired, name)
		}
	}
	if len(c.ChannelIDs) == 0 {
		return fmt.Errorf("%w: BUNGEBITS_CHANNEL_IDS", ErrMissingRequired)
	}
	return nil
}

// Location resolves the configured Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func splitNonEmpty(csv string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if seg := trimSpace(csv[start:i]); seg != "" {
				out = append(out, seg)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
