// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/log"
)

// PerformStartupChecks validates the environment and dependencies before starting the daemon.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	// 1. Data Directory Permissions
	if err := checkWritableDir(logger, "data", cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	// 2. Targeted Validations
	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func checkWritableDir(logger zerolog.Logger, name, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	// Check write permissions by creating a temp file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msgf("✓ %s directory is writable", name)
	return nil
}

// checkTargetedValidations performs security and runtime-critical validations
func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	// a. Listen Address (Parseable)
	if cfg.ListenAddr != "" {
		_, port, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("invalid listen address %q: %w", cfg.ListenAddr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid listen port %q in %q", port, cfg.ListenAddr)
		}
		logger.Info().Str("addr", cfg.ListenAddr).Msg("✓ Listen address is valid")
	}

	// b. Watch Root (Absolute + Exists)
	if !filepath.IsAbs(cfg.WatchRoot) {
		return fmt.Errorf("watch root must be an absolute path: %s", cfg.WatchRoot)
	}
	if err := os.MkdirAll(cfg.WatchRoot, 0750); err != nil {
		return fmt.Errorf("failed to ensure watch root (%s): %w", cfg.WatchRoot, err)
	}
	logger.Info().Str("path", cfg.WatchRoot).Msg("✓ Watch root validated")

	// c. Notify URL (Syntax + Scheme)
	if cfg.NotifyURL != "" {
		u, err := url.Parse(cfg.NotifyURL)
		if err != nil {
			return fmt.Errorf("invalid notify URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("notify URL scheme must be http or https, got: %s", u.Scheme)
		}
		logger.Info().Str("url", cfg.NotifyURL).Msg("✓ Notify URL is valid")
	}

	// d. Transcriber binary on PATH
	if cfg.TranscribeCommand != "" {
		fields := strings.Fields(cfg.TranscribeCommand)
		if _, err := exec.LookPath(fields[0]); err != nil {
			return fmt.Errorf("transcribe binary not found (%s): %w", fields[0], err)
		}
		logger.Info().Str("bin", fields[0]).Msg("✓ Transcribe command available")
	} else {
		logger.Warn().Msg("transcribe command not configured; sessions are archived without transcripts")
	}

	// e. Persistence safety
	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; journal and archive index may be lost on reboot")
	}

	return nil
}
