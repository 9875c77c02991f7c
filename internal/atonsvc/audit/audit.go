// Package audit records every AtoN and dataset event in a signed,
// hash-chained log.
package audit

import (
	"context"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/atonsvc/dataset"
	"github.com/grad-enav/atonservice/internal/atonsvc/feed"
	"github.com/grad-enav/atonservice/internal/atonsvc/geo"
	"github.com/grad-enav/atonservice/internal/common/eventbus"
	"github.com/grad-enav/atonservice/internal/common/hashlog"
)

const eventBuffer = 256

var topics = []string{"aton.*", "dataset.*"}

// EventSource is the part of the event bus the recorder listens on.
type EventSource interface {
	Subscribe(pattern string, bufferSize int) (<-chan eventbus.Event, func())
}

// Appender is the write side of a hash-chained log.
type Appender interface {
	Append(payload map[string]any) error
	Close() error
}

// Recorder appends every AtoN and dataset event to a hash-chained audit log.
type Recorder struct {
	log Appender
	now func() time.Time

	once   sync.Once
	unsubs []func()
	wg     sync.WaitGroup
}

// NewRecorder returns a recorder writing to log. Nothing is recorded until
// Start is called.
func NewRecorder(log Appender) *Recorder {
	return &Recorder{log: log, now: time.Now}
}

// Open starts a new log file under dir. Each run gets its own file since a
// chain cannot be resumed.
func Open(dir string, flushInterval int, key ed25519.PrivateKey) (*hashlog.Writer, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, "audit-"+time.Now().UTC().Format("20060102T150405Z")+".log")
	w, err := hashlog.NewWriter(path, flushInterval, key)
	if err != nil {
		return nil, "", err
	}
	return w, path, nil
}

// VerifyFile checks a log written by a Recorder and returns the number of
// verified entries.
func VerifyFile(path string, pub ed25519.PublicKey) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return hashlog.Verify(f, pub)
}

// Start subscribes to the AtoN and dataset topics and records events in the
// background until Stop.
func (r *Recorder) Start(ctx context.Context, bus EventSource) {
	for _, topic := range topics {
		events, unsubscribe := bus.Subscribe(topic, eventBuffer)
		r.unsubs = append(r.unsubs, unsubscribe)
		r.wg.Add(1)
		go r.run(ctx, events)
	}
}

// Stop detaches from the bus, waits for pending events and closes the log.
func (r *Recorder) Stop() error {
	var err error
	r.once.Do(func() {
		for _, unsubscribe := range r.unsubs {
			unsubscribe()
		}
		r.wg.Wait()
		err = r.log.Close()
	})
	return err
}

func (r *Recorder) run(ctx context.Context, events <-chan eventbus.Event) {
	defer r.wg.Done()
	for ev := range events {
		entry, ok := r.entryFor(ev)
		if !ok {
			log.Ctx(ctx).Debug().Str("topic", ev.Topic).Msg("event not audited")
			continue
		}
		if err := r.log.Append(entry); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("topic", ev.Topic).Msg("unable to append audit entry")
		}
	}
}

// entryFor flattens an event into string values so that entries read back
// from disk hash the same way they were written.
func (r *Recorder) entryFor(ev eventbus.Event) (map[string]any, bool) {
	entry := map[string]any{
		"topic":      ev.Topic,
		"recordedAt": r.now().UTC().Format(time.RFC3339Nano),
	}
	switch e := ev.Data.(type) {
	case dataset.Event:
		entry["event"] = e.Kind.String()
		entry["datasetId"] = e.Dataset.UUID.String()
		if e.Operation != "" {
			entry["operation"] = string(e.Operation)
		}
		entry["sequenceNo"] = strconv.FormatInt(e.SequenceNo, 10)
		if e.Dataset.Geometry != nil {
			entry["geometry"] = geo.WKT(e.Dataset.Geometry)
		}
	case feed.AtonEvent:
		entry["event"] = e.Kind.String()
		numbers := make([]any, 0, len(e.AtonNumbers))
		for _, n := range e.AtonNumbers {
			numbers = append(numbers, n)
		}
		entry["atonNumbers"] = numbers
		if e.Geometry != nil {
			entry["geometry"] = geo.WKT(e.Geometry)
		}
	default:
		return nil, false
	}
	return entry, true
}
