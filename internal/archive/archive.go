// Package archive persists broadcast room messages to durable, append-only
// destinations. Archived entries are advisory: they are never read back to
// rebuild in-memory room history.
package archive

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by sinks used after Close.
var ErrClosed = errors.New("archive: sink closed")

// Entry is one broadcast message as it is written to an archive.
type Entry struct {
	Room    string
	Sender  string
	Message string
	Stamp   string // HH:MM:SS, as shown to clients
}

// Line renders the entry the way room history shows it.
func (e Entry) Line() string {
	return fmt.Sprintf("[%s] %s: %s", e.Stamp, e.Sender, e.Message)
}

// Sink receives every broadcast entry.
type Sink interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

type multiSink []Sink

// Multi fans each entry out to all sinks. Every sink is attempted and the
// failures are joined.
func Multi(sinks ...Sink) Sink {
	flat := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			flat = append(flat, s)
		}
	}
	return flat
}

func (m multiSink) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type discard struct{}

// Discard drops every entry.
func Discard() Sink { return discard{} }

func (discard) Append(context.Context, Entry) error { return nil }
func (discard) Close() error                        { return nil }
