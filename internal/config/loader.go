package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML schema. Every field is optional; absent fields
// keep their previous (default) value.
type fileConfig struct {
	WatchRoot       string `yaml:"watchRoot"`
	QuietPeriod     string `yaml:"quietPeriod"`
	ClosedRetention string `yaml:"closedRetention"`

	Matching struct {
		Extension      string `yaml:"extension"`
		InboundSuffix  string `yaml:"inboundSuffix"`
		OutboundSuffix string `yaml:"outboundSuffix"`
	} `yaml:"matching"`

	Handoff struct {
		Workers     int    `yaml:"workers"`
		Retries     int    `yaml:"retries"`
		BackoffBase string `yaml:"backoffBase"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"handoff"`

	DataDir string `yaml:"dataDir"`

	Archive struct {
		Enabled *bool  `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	} `yaml:"archive"`

	Transcribe struct {
		Command string `yaml:"command"`
		Timeout string `yaml:"timeout"`
	} `yaml:"transcribe"`

	Notify struct {
		URL     string `yaml:"url"`
		Retries int    `yaml:"retries"`
	} `yaml:"notify"`

	API struct {
		ListenAddr   string `yaml:"listenAddr"`
		RateLimitRPM int    `yaml:"rateLimitRpm"`
	} `yaml:"api"`

	Tracing struct {
		Enabled      *bool   `yaml:"enabled"`
		Exporter     string  `yaml:"exporter"`
		Endpoint     string  `yaml:"endpoint"`
		SamplingRate float64 `yaml:"samplingRate"`
	} `yaml:"tracing"`

	LogLevel string `yaml:"logLevel"`
}

// Loader handles configuration loading with precedence
// ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load resolves the configuration: defaults, then the optional YAML
// file, then environment overrides, then validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.mergeFile(&cfg, l.configPath); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *AppConfig, path string) error {
	raw, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return err
	}
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&cfg.WatchRoot, fc.WatchRoot)
	if err := setDuration(&cfg.QuietPeriod, fc.QuietPeriod, "quietPeriod"); err != nil {
		return err
	}
	if err := setDuration(&cfg.ClosedRetention, fc.ClosedRetention, "closedRetention"); err != nil {
		return err
	}
	setString(&cfg.FileExtension, fc.Matching.Extension)
	setString(&cfg.InboundSuffix, fc.Matching.InboundSuffix)
	setString(&cfg.OutboundSuffix, fc.Matching.OutboundSuffix)
	setInt(&cfg.HandoffWorkers, fc.Handoff.Workers)
	setInt(&cfg.HandoffRetries, fc.Handoff.Retries)
	if err := setDuration(&cfg.HandoffBackoffBase, fc.Handoff.BackoffBase, "handoff.backoffBase"); err != nil {
		return err
	}
	if err := setDuration(&cfg.HandoffTimeout, fc.Handoff.Timeout, "handoff.timeout"); err != nil {
		return err
	}
	setString(&cfg.DataDir, fc.DataDir)
	if fc.Archive.Enabled != nil {
		cfg.ArchiveEnabled = *fc.Archive.Enabled
	}
	setString(&cfg.ArchiveDir, fc.Archive.Dir)
	setString(&cfg.TranscribeCommand, fc.Transcribe.Command)
	if err := setDuration(&cfg.TranscribeTimeout, fc.Transcribe.Timeout, "transcribe.timeout"); err != nil {
		return err
	}
	setString(&cfg.NotifyURL, fc.Notify.URL)
	setInt(&cfg.NotifyRetries, fc.Notify.Retries)
	setString(&cfg.ListenAddr, fc.API.ListenAddr)
	setInt(&cfg.RateLimitRPM, fc.API.RateLimitRPM)
	if fc.Tracing.Enabled != nil {
		cfg.TraceEnabled = *fc.Tracing.Enabled
	}
	setString(&cfg.TraceExporter, fc.Tracing.Exporter)
	setString(&cfg.TraceEndpoint, fc.Tracing.Endpoint)
	if fc.Tracing.SamplingRate > 0 {
		cfg.TraceSamplingRate = fc.Tracing.SamplingRate
	}
	setString(&cfg.LogLevel, fc.LogLevel)
	return nil
}

// mergeEnv applies CALLSCRIBE_* environment overrides, the highest
// precedence level.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.WatchRoot = ParseString("CALLSCRIBE_WATCH_ROOT", cfg.WatchRoot)
	cfg.QuietPeriod = ParseDuration("CALLSCRIBE_QUIET_PERIOD", cfg.QuietPeriod)
	cfg.ClosedRetention = ParseDuration("CALLSCRIBE_CLOSED_RETENTION", cfg.ClosedRetention)
	cfg.FileExtension = ParseString("CALLSCRIBE_FILE_EXTENSION", cfg.FileExtension)
	cfg.InboundSuffix = ParseString("CALLSCRIBE_INBOUND_SUFFIX", cfg.InboundSuffix)
	cfg.OutboundSuffix = ParseString("CALLSCRIBE_OUTBOUND_SUFFIX", cfg.OutboundSuffix)
	cfg.HandoffWorkers = ParseInt("CALLSCRIBE_HANDOFF_WORKERS", cfg.HandoffWorkers)
	cfg.HandoffRetries = ParseInt("CALLSCRIBE_HANDOFF_RETRIES", cfg.HandoffRetries)
	cfg.HandoffBackoffBase = ParseDuration("CALLSCRIBE_HANDOFF_BACKOFF", cfg.HandoffBackoffBase)
	cfg.HandoffTimeout = ParseDuration("CALLSCRIBE_HANDOFF_TIMEOUT", cfg.HandoffTimeout)
	cfg.DataDir = ParseString("CALLSCRIBE_DATA_DIR", cfg.DataDir)
	cfg.ArchiveEnabled = ParseBool("CALLSCRIBE_ARCHIVE_ENABLED", cfg.ArchiveEnabled)
	cfg.ArchiveDir = ParseString("CALLSCRIBE_ARCHIVE_DIR", cfg.ArchiveDir)
	cfg.TranscribeCommand = ParseString("CALLSCRIBE_TRANSCRIBE_CMD", cfg.TranscribeCommand)
	cfg.TranscribeTimeout = ParseDuration("CALLSCRIBE_TRANSCRIBE_TIMEOUT", cfg.TranscribeTimeout)
	cfg.NotifyURL = ParseString("CALLSCRIBE_NOTIFY_URL", cfg.NotifyURL)
	cfg.NotifyRetries = ParseInt("CALLSCRIBE_NOTIFY_RETRIES", cfg.NotifyRetries)
	cfg.ListenAddr = ParseString("CALLSCRIBE_LISTEN", cfg.ListenAddr)
	cfg.RateLimitRPM = ParseInt("CALLSCRIBE_RATE_LIMIT_RPM", cfg.RateLimitRPM)
	cfg.MetricsEnabled = ParseBool("CALLSCRIBE_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.TraceEnabled = ParseBool("CALLSCRIBE_TRACE_ENABLED", cfg.TraceEnabled)
	cfg.TraceExporter = ParseString("CALLSCRIBE_TRACE_EXPORTER", cfg.TraceExporter)
	cfg.TraceEndpoint = ParseString("CALLSCRIBE_TRACE_ENDPOINT", cfg.TraceEndpoint)
	cfg.TraceSamplingRate = ParseFloat("CALLSCRIBE_TRACE_SAMPLING", cfg.TraceSamplingRate)
	cfg.LogLevel = ParseString("CALLSCRIBE_LOG_LEVEL", cfg.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, field string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}
