// SPDX-License-Identifier: MIT
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/callscribe/callscribe/internal/bus"
	"github.com/callscribe/callscribe/internal/session"
)

// stubTranscriber returns canned segments per recording path.
type stubTranscriber struct {
	segments map[string][]Segment
	err      error
	calls    []string
}

func (s *stubTranscriber) Transcribe(_ context.Context, wavPath string) ([]Segment, error) {
	s.calls = append(s.calls, wavPath)
	if s.err != nil {
		return nil, s.err
	}
	return s.segments[filepath.Base(wavPath)], nil
}

func writeSpoolFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("RIFFdata"), 0o640))
	return path
}

func finalizedFixture(t *testing.T, spool string) session.FinalizedSession {
	t.Helper()
	return session.FinalizedSession{
		Key:           "call-7001",
		CorrelationID: "corr-7001",
		Files: []session.FinalizedFile{
			{Path: writeSpoolFile(t, spool, "call-7001-in.wav"), Role: session.RoleInbound, Size: 8},
			{Path: writeSpoolFile(t, spool, "call-7001-out.wav"), Role: session.RoleOutbound, Size: 8},
		},
		Complete:    true,
		Duration:    42 * time.Second,
		CreatedAt:   time.Now().Add(-time.Minute),
		FinalizedAt: time.Now(),
	}
}

func TestArchiverProcessCopiesTranscribesAndIndexes(t *testing.T) {
	spool := t.TempDir()
	archiveDir := t.TempDir()
	idx := openTestIndex(t)

	tr := &stubTranscriber{segments: map[string][]Segment{
		"call-7001-in.wav":  {{Start: 0.0, End: 1.2, Text: "hello"}},
		"call-7001-out.wav": {{Start: 1.4, End: 2.0, Text: "hi there"}},
	}}
	a := New(archiveDir, nil, tr, nil, idx)

	fin := finalizedFixture(t, spool)
	require.NoError(t, a.Process(context.Background(), fin))

	destDir := filepath.Join(archiveDir, "call-7001")
	for _, name := range []string{"call-7001-in.wav", "call-7001-out.wav"} {
		data, err := os.ReadFile(filepath.Join(destDir, name))
		require.NoError(t, err)
		require.Equal(t, "RIFFdata", string(data))
	}
	require.Len(t, tr.calls, 2)

	transcript, err := os.ReadFile(filepath.Join(destDir, "transcription.txt"))
	require.NoError(t, err)
	require.Equal(t, "IN : hello\nOUT: hi there\n", string(transcript))

	var m manifest
	raw, err := os.ReadFile(filepath.Join(destDir, "session.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, fin.Key, m.Session.Key)
	require.Equal(t, fin.CorrelationID, m.Session.CorrelationID)
	require.Len(t, m.Archived, 2)
	require.Equal(t, filepath.Join(destDir, "transcription.txt"), m.Transcript)

	rows, err := idx.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, fin.Key, rows[0].Key)
	require.True(t, rows[0].Complete)
	require.Equal(t, int64(42000), rows[0].DurationMS)
	require.Equal(t, 2, rows[0].FileCount)
	require.NotEmpty(t, rows[0].TranscriptPath)
}

func TestArchiverProcessWithoutTranscriber(t *testing.T) {
	spool := t.TempDir()
	archiveDir := t.TempDir()
	a := New(archiveDir, nil, nil, nil, nil)

	fin := finalizedFixture(t, spool)
	require.NoError(t, a.Process(context.Background(), fin))

	destDir := filepath.Join(archiveDir, "call-7001")
	_, err := os.Stat(filepath.Join(destDir, "call-7001-in.wav"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(destDir, "transcription.txt"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(destDir, "session.json"))
	require.NoError(t, err)
}

func TestArchiverProcessTranscriptionFailureKeepsRecordings(t *testing.T) {
	spool := t.TempDir()
	archiveDir := t.TempDir()
	tr := &stubTranscriber{err: errors.New("model not loaded")}
	a := New(archiveDir, nil, tr, nil, nil)

	fin := finalizedFixture(t, spool)
	require.NoError(t, a.Process(context.Background(), fin))

	destDir := filepath.Join(archiveDir, "call-7001")
	_, err := os.Stat(filepath.Join(destDir, "call-7001-in.wav"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(destDir, "call-7001-out.wav"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(destDir, "transcription.txt"))
	require.True(t, os.IsNotExist(err))

	var m manifest
	raw, err := os.ReadFile(filepath.Join(destDir, "session.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Empty(t, m.Transcript)
}

func TestArchiverProcessRejectsEscapingKey(t *testing.T) {
	a := New(t.TempDir(), nil, nil, nil, nil)

	fin := session.FinalizedSession{Key: "../escape"}
	err := a.Process(context.Background(), fin)
	require.Error(t, err)
}

func TestArchiverProcessMissingSourceFile(t *testing.T) {
	a := New(t.TempDir(), nil, nil, nil, nil)

	fin := session.FinalizedSession{
		Key: "call-gone",
		Files: []session.FinalizedFile{
			{Path: filepath.Join(t.TempDir(), "call-gone-in.wav"), Role: session.RoleInbound},
		},
	}
	err := a.Process(context.Background(), fin)
	require.Error(t, err)
}

func TestArchiverRunConsumesFinalizedSessions(t *testing.T) {
	spool := t.TempDir()
	archiveDir := t.TempDir()
	b := bus.NewMemoryBus()
	a := New(archiveDir, b, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	fin := finalizedFixture(t, spool)
	destDir := filepath.Join(archiveDir, "call-7001")

	// Publish until the archiver has attached and processed the session.
	require.Eventually(t, func() bool {
		require.NoError(t, b.Publish(context.Background(), fin))
		_, err := os.Stat(filepath.Join(destDir, "session.json"))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("archiver did not stop")
	}
}
