package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/callscribe/callscribe/internal/log"
)

// Notifier uploads the unified transcript to a downstream HTTP endpoint
// as a multipart POST. Failures are retried with quadratic backoff and
// are never fatal for the daemon.
type Notifier struct {
	url     string
	retries int
	client  *http.Client
	logger  zerolog.Logger
}

func NewNotifier(url string, retries int) *Notifier {
	return &Notifier{
		url:     url,
		retries: retries,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  xlog.WithComponent("notifier"),
	}
}

// Upload posts the transcript file under the form field "file".
func (n *Notifier) Upload(ctx context.Context, path string) error {
	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := n.post(ctx, path); err != nil {
			lastErr = err
			n.logger.Warn().Err(err).
				Str(xlog.FieldPath, path).
				Int(xlog.FieldAttempt, attempt+1).
				Msg("transcript upload failed")
			continue
		}
		return nil
	}
	return fmt.Errorf("upload transcript after %d attempts: %w", n.retries+1, lastErr)
}

func (n *Notifier) post(ctx context.Context, path string) error {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
	return nil
}
