// SPDX-License-Identifier: MIT

package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempTranscript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcription.txt")
	require.NoError(t, os.WriteFile(path, []byte("IN : hello\nOUT: hi\n"), 0o640))
	return path
}

func TestNotifierUpload(t *testing.T) {
	var gotName string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		gotName = header.Filename
		gotBody, err = io.ReadAll(file)
		require.NoError(t, err)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, 0)
	path := writeTempTranscript(t)

	require.NoError(t, n.Upload(context.Background(), path))
	assert.Equal(t, "transcription.txt", gotName)
	assert.Equal(t, "IN : hello\nOUT: hi\n", string(gotBody))
}

func TestNotifierRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, 3)
	require.NoError(t, n.Upload(context.Background(), writeTempTranscript(t)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifierExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, 1)
	err := n.Upload(context.Background(), writeTempTranscript(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), calls.Load())
}

func TestNotifierMissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, 0)
	err := n.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
