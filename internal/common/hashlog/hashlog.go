// Package hashlog writes tamper-evident logs. Each line holds a payload, the hash of the
// previous line and an ed25519 signature, so truncation, reordering or edits are detected
// by Verify.
package hashlog

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"sync"

	jsonitor "github.com/json-iterator/go"
)

var json = jsonitor.ConfigCompatibleWithStandardLibrary

// Entry is one line of the log.
type Entry struct {
	Seq       uint64         `json:"seq"`
	Payload   map[string]any `json:"payload"`
	PrevHash  string         `json:"prevHash"`
	Hash      string         `json:"hash"`
	Signature string         `json:"signature"`
}

type hashInput struct {
	Seq      uint64         `json:"seq"`
	Payload  map[string]any `json:"payload"`
	PrevHash string         `json:"prevHash"`
}

type signInput struct {
	Seq      uint64         `json:"seq"`
	Payload  map[string]any `json:"payload"`
	PrevHash string         `json:"prevHash"`
	Hash     string         `json:"hash"`
}

// Writer appends signed entries to a file, buffering up to flushInterval entries.
type Writer struct {
	mu            sync.Mutex
	out           io.WriteCloser
	flushInterval int
	buffer        []Entry
	seq           uint64
	prevHash      string
	privKey       ed25519.PrivateKey
	closed        bool
}

// NewWriter opens (or creates) path for appending. A fresh chain is started, so
// callers should use one file per process run.
func NewWriter(path string, flushInterval int, privKey ed25519.PrivateKey) (*Writer, error) {
	if len(privKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key: must be %d bytes, got %d", ed25519.PrivateKeySize, len(privKey))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return newWriter(f, flushInterval, privKey), nil
}

func newWriter(out io.WriteCloser, flushInterval int, privKey ed25519.PrivateKey) *Writer {
	if flushInterval <= 0 {
		flushInterval = 1
	}
	return &Writer{
		out:           out,
		flushInterval: flushInterval,
		buffer:        make([]Entry, 0, flushInterval),
		privKey:       privKey,
	}
}

// Append hashes, signs and buffers payload.
func (w *Writer) Append(payload map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("hashlog: writer closed")
	}

	cloned := make(map[string]any, len(payload))
	for k, v := range payload {
		cloned[k] = v
	}
	w.seq++
	entry := Entry{Seq: w.seq, Payload: cloned, PrevHash: w.prevHash}

	data, err := json.Marshal(hashInput{Seq: entry.Seq, Payload: entry.Payload, PrevHash: entry.PrevHash})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	hash := sha256.Sum256(data)
	entry.Hash = fmt.Sprintf("%x", hash[:])

	sig, err := json.Marshal(signInput{Seq: entry.Seq, Payload: entry.Payload, PrevHash: entry.PrevHash, Hash: entry.Hash})
	if err != nil {
		return fmt.Errorf("failed to marshal sign input: %w", err)
	}
	entry.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(w.privKey, sig))
	w.prevHash = entry.Hash

	w.buffer = append(w.buffer, entry)
	if len(w.buffer) >= w.flushInterval {
		return w.flushLocked()
	}
	return nil
}

func (w *Writer) flushLocked() error {
	for _, entry := range w.buffer {
		b, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if _, err := w.out.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}
	w.buffer = w.buffer[:0]
	return nil
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Close flushes and closes the file. Further calls are no-ops.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flushLocked(); err != nil {
		w.out.Close()
		return err
	}
	return w.out.Close()
}
