package archive

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Transcriber is the speech-to-text boundary. The engine never inspects
// transcript content; archival runs this per channel file.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) ([]Segment, error)
}

// CommandTranscriber shells out to an external speech-to-text command
// (whisper wrapper or similar) which receives the recording path as its
// final argument and emits `start; end; "text"` lines on stdout.
type CommandTranscriber struct {
	// Command is the program plus fixed arguments, whitespace-split.
	Command string
	// Timeout bounds one transcription run.
	Timeout time.Duration
}

func (t *CommandTranscriber) Transcribe(ctx context.Context, wavPath string) ([]Segment, error) {
	argv := strings.Fields(t.Command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("transcribe command is empty")
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	args := append(argv[1:], wavPath)
	cmd := exec.CommandContext(ctx, argv[0], args...) // #nosec G204
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("transcribe %s: %w: %s", wavPath, err, msg)
		}
		return nil, fmt.Errorf("transcribe %s: %w", wavPath, err)
	}

	segs, err := ParseSegments(&stdout)
	if err != nil {
		return nil, fmt.Errorf("parse transcription of %s: %w", wavPath, err)
	}
	return segs, nil
}

var _ Transcriber = (*CommandTranscriber)(nil)
