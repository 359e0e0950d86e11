// Package config loads daemon configuration with precedence
// ENV > file > defaults, immutable for the process lifetime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AppConfig is the daemon's complete configuration.
type AppConfig struct {
	// WatchRoot is the monitored recording spool directory.
	WatchRoot string
	// QuietPeriod is the write-inactivity duration after which a
	// session is finalized.
	QuietPeriod time.Duration
	// ClosedRetention is how long finalized keys keep rejecting late
	// writes.
	ClosedRetention time.Duration

	// Matching rules.
	FileExtension  string
	InboundSuffix  string
	OutboundSuffix string

	// Hand-off retry policy.
	HandoffWorkers     int
	HandoffRetries     int
	HandoffBackoffBase time.Duration
	HandoffTimeout     time.Duration

	// DataDir holds the journal and archive index.
	DataDir string
	// ArchiveDir receives finalized recordings and transcripts.
	ArchiveDir string
	// ArchiveEnabled toggles the archival subscriber.
	ArchiveEnabled bool

	// TranscribeCommand is the external speech-to-text command run per
	// channel file; empty disables transcription.
	TranscribeCommand string
	// TranscribeTimeout bounds one transcription run.
	TranscribeTimeout time.Duration

	// NotifyURL receives the unified transcript via multipart POST;
	// empty disables notification.
	NotifyURL     string
	NotifyRetries int

	// HTTP surface.
	ListenAddr     string
	RateLimitRPM   int
	MetricsEnabled bool

	// Tracing.
	TraceEnabled      bool
	TraceExporter     string
	TraceEndpoint     string
	TraceSamplingRate float64

	// Logging.
	LogLevel   string
	LogService string

	// Version is stamped from the binary.
	Version string
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		WatchRoot:          "/var/spool/asterisk/monitor",
		QuietPeriod:        60 * time.Second,
		ClosedRetention:    5 * time.Minute,
		FileExtension:      "wav",
		InboundSuffix:      "-in",
		OutboundSuffix:     "-out",
		HandoffWorkers:     2,
		HandoffRetries:     5,
		HandoffBackoffBase: 500 * time.Millisecond,
		HandoffTimeout:     5 * time.Second,
		DataDir:            "/var/lib/callscribe",
		ArchiveDir:         "/var/lib/callscribe/archive",
		ArchiveEnabled:     true,
		TranscribeTimeout:  10 * time.Minute,
		NotifyRetries:      3,
		ListenAddr:         ":8080",
		RateLimitRPM:       600,
		MetricsEnabled:     true,
		TraceExporter:      "http",
		TraceSamplingRate:  1.0,
		LogLevel:           "info",
		LogService:         "callscribe",
	}
}

// Validate fails fast on configurations the daemon cannot run with.
func Validate(cfg AppConfig) error {
	if cfg.WatchRoot == "" {
		return fmt.Errorf("watch root must not be empty")
	}
	if cfg.QuietPeriod <= 0 {
		return fmt.Errorf("quiet period must be positive, got %s", cfg.QuietPeriod)
	}
	if cfg.ClosedRetention < 0 {
		return fmt.Errorf("closed retention must not be negative, got %s", cfg.ClosedRetention)
	}
	if cfg.InboundSuffix == cfg.OutboundSuffix {
		return fmt.Errorf("inbound and outbound suffixes must differ, both are %q", cfg.InboundSuffix)
	}
	if cfg.HandoffRetries < 0 {
		return fmt.Errorf("hand-off retries must not be negative, got %d", cfg.HandoffRetries)
	}
	if cfg.ArchiveEnabled && cfg.ArchiveDir == "" {
		return fmt.Errorf("archive dir must be set when archiving is enabled")
	}
	if cfg.TraceEnabled && cfg.TraceEndpoint == "" {
		return fmt.Errorf("trace endpoint must be set when tracing is enabled")
	}
	return nil
}

// EnsureDirs creates the directories the daemon writes to.
func EnsureDirs(cfg AppConfig) error {
	dirs := []string{cfg.DataDir, filepath.Join(cfg.DataDir, "journal")}
	if cfg.ArchiveEnabled {
		dirs = append(dirs, cfg.ArchiveDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
