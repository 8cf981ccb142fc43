package archive

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// FileSink appends each entry to a per-room text file named after the room.
// The file is opened for every entry, so deleting or rotating it on disk
// needs no coordination with the server.
type FileSink struct {
	dir    string
	closed atomic.Bool
}

// NewFileSink returns a sink writing into dir, creating it if necessary.
func NewFileSink(dir string) (*FileSink, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create log dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Path returns the log file used for room.
func (s *FileSink) Path(room string) string {
	return filepath.Join(s.dir, FileName(room))
}

// Append writes e.Line() and a trailing newline to the room's log.
func (s *FileSink) Append(_ context.Context, e Entry) error {
	if s.closed.Load() {
		return ErrClosed
	}

	f, err := os.OpenFile(s.Path(e.Room), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("archive: open room log: %w", err)
	}
	if _, err := f.WriteString(e.Line() + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("archive: write room log: %w", err)
	}
	return f.Close()
}

// Close marks the sink closed. Files are not held open between appends.
func (s *FileSink) Close() error {
	s.closed.Store(true)
	return nil
}

// FileName maps a room identifier to a file name that stays inside the log
// directory. The name is path escaped, with ':' and a leading '.' escaped
// too, so distinct rooms never share a file.
func FileName(room string) string {
	name := strings.ReplaceAll(url.PathEscape(room), ":", "%3A")
	if strings.HasPrefix(name, ".") {
		name = "%2E" + name[1:]
	}
	return name + ".txt"
}
