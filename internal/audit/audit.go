// Package audit provides tamper-evident audit logging for the detection
// engine. Entries form a hash chain with HMAC signatures so modification,
// deletion or insertion of entries is detectable.
//
// The audit trail is the collaborator of last resort: appends never
// return an error to the caller, and the fallback provider reconstructs
// approximate event lists from SECURITY_ALERT entries when the event
// store is down.
package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tag categorizes an audit entry.
type Tag string

const (
	// TagSecurityAlert marks a detector emission. The fallback event-list
	// path reconstructs events from these entries.
	TagSecurityAlert Tag = "SECURITY_ALERT"

	// TagLifecycle marks an alert lifecycle transition.
	TagLifecycle Tag = "LIFECYCLE"

	// TagFallback marks degraded-mode activity.
	TagFallback Tag = "FALLBACK"

	// TagSystem marks engine start/stop and operational entries.
	TagSystem Tag = "SYSTEM"
)

// Entry is a single audit log entry.
type Entry struct {
	ID        uuid.UUID      `json:"id"`
	Sequence  uint64         `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Tag       Tag            `json:"tag"`
	Message   string         `json:"message"`
	Actor     string         `json:"actor,omitempty"`
	ActorIP   string         `json:"actor_ip,omitempty"`
	Target    string         `json:"target,omitempty"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`

	// Chain integrity
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
	Signature    string `json:"signature"`
}

// computeHash hashes the entry contents (excluding signature and entry hash).
func (e *Entry) computeHash() string {
	h := sha256.New()
	h.Write([]byte(e.ID.String()))
	h.Write([]byte(fmt.Sprintf("%d", e.Sequence)))
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.Tag))
	h.Write([]byte(e.Message))
	h.Write([]byte(e.Actor))
	h.Write([]byte(e.ActorIP))
	h.Write([]byte(e.Target))
	h.Write([]byte(fmt.Sprintf("%t", e.Success)))

	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write([]byte(fmt.Sprintf("%v", e.Data[k])))
		}
	}

	h.Write([]byte(e.PreviousHash))
	return hex.EncodeToString(h.Sum(nil))
}

// sign computes the entry hash and HMAC signature.
func (e *Entry) sign(key []byte) {
	e.EntryHash = e.computeHash()

	h := hmac.New(sha256.New, key)
	h.Write([]byte(e.EntryHash))
	h.Write([]byte(e.PreviousHash))
	e.Signature = hex.EncodeToString(h.Sum(nil))
}

// verify checks the entry hash and signature against the key.
func (e *Entry) verify(key []byte) bool {
	if e.computeHash() != e.EntryHash {
		return false
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(e.EntryHash))
	h.Write([]byte(e.PreviousHash))
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(e.Signature), []byte(expected))
}

// Config configures the audit trail.
type Config struct {
	// Path is the audit log file. Empty keeps the trail memory-only.
	Path string `yaml:"path"`

	// MaxEntries bounds the in-memory window served by Recent.
	MaxEntries int `yaml:"max_entries"`
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	return Config{
		Path:       "",
		MaxEntries: 10000,
	}
}

// Trail is a hash-chained audit log with an in-memory query window.
type Trail struct {
	mu       sync.Mutex
	config   Config
	key      []byte
	entries  []*Entry
	sequence uint64
	prevHash string
	file     *os.File
}

// NewTrail creates a new audit trail. A random HMAC key is generated when
// none is supplied.
func NewTrail(cfg Config, key []byte) (*Trail, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("audit: failed to generate hmac key: %w", err)
		}
	}

	t := &Trail{
		config:   cfg,
		key:      key,
		prevHash: hex.EncodeToString(make([]byte, sha256.Size)),
	}

	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("audit: failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to open log file: %w", err)
		}
		t.file = f
	}

	return t, nil
}

// Record describes an entry to append.
type Record struct {
	Tag     Tag
	Message string
	Actor   string
	ActorIP string
	Target  string
	Success bool
	Data    map[string]any
}

// Append adds an entry to the trail. It never returns an error: write
// failures are logged and the in-memory chain continues, because the
// audit trail must not fail its callers.
func (t *Trail) Append(rec Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sequence++
	entry := &Entry{
		ID:           uuid.New(),
		Sequence:     t.sequence,
		Timestamp:    time.Now().UTC(),
		Tag:          rec.Tag,
		Message:      rec.Message,
		Actor:        rec.Actor,
		ActorIP:      rec.ActorIP,
		Target:       rec.Target,
		Success:      rec.Success,
		Data:         rec.Data,
		PreviousHash: t.prevHash,
	}
	entry.sign(t.key)
	t.prevHash = entry.EntryHash

	t.entries = append(t.entries, entry)
	if len(t.entries) > t.config.MaxEntries {
		t.entries = t.entries[len(t.entries)-t.config.MaxEntries:]
	}

	if t.file != nil {
		line, err := json.Marshal(entry)
		if err == nil {
			_, err = t.file.Write(append(line, '\n'))
		}
		if err != nil {
			slog.Error("audit write failed", "sequence", entry.Sequence, "error", err)
		}
	}
}

// Recent returns in-memory entries with the given tag at or after since,
// oldest first. A zero since returns the whole window; limit <= 0 means
// no limit.
func (t *Trail) Recent(tag Tag, since time.Time, limit int) []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Entry
	for _, e := range t.entries {
		if tag != "" && e.Tag != tag {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Verify walks the in-memory chain and checks hashes, signatures and
// sequence continuity.
func (t *Trail) Verify() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var prevSeq uint64
	var prevHash string
	for i, e := range t.entries {
		if !e.verify(t.key) {
			return fmt.Errorf("audit: entry %d failed signature verification", e.Sequence)
		}
		if i > 0 {
			if e.Sequence != prevSeq+1 {
				return fmt.Errorf("audit: sequence gap between %d and %d", prevSeq, e.Sequence)
			}
			if e.PreviousHash != prevHash {
				return fmt.Errorf("audit: chain broken at sequence %d", e.Sequence)
			}
		}
		prevSeq = e.Sequence
		prevHash = e.EntryHash
	}
	return nil
}

// Close flushes and closes the audit file, if any.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		err := t.file.Close()
		t.file = nil
		return err
	}
	return nil
}
