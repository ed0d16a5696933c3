package lyfe

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubCloser struct {
	err   error
	calls int
}

func (s *stubCloser) Close() error {
	s.calls++
	return s.err
}

func TestCloseWithLog(t *testing.T) {
	tests := []struct {
		name    string
		closer  *stubCloser
		wantLog string
	}{
		{name: "clean close", closer: &stubCloser{}},
		{name: "close error", closer: &stubCloser{err: errors.New("connection reset")}, wantLog: "connection reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			CloseWithLog(tt.closer, logger, "snapshot store")

			assert.Equal(t, 1, tt.closer.calls)
			if tt.wantLog == "" {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), "failed to close resource")
			assert.Contains(t, buf.String(), "resource=\"snapshot store\"")
			assert.Contains(t, buf.String(), tt.wantLog)
		})
	}
}

func TestCloseWithLog_Nil(t *testing.T) {
	var buf bytes.Buffer
	CloseWithLog(nil, slog.New(slog.NewTextHandler(&buf, nil)), "nothing")
	assert.Empty(t, buf.String())

	assert.NotPanics(t, func() {
		CloseWithLog(&stubCloser{err: errors.New("boom")}, nil, "default logger")
	})
}
