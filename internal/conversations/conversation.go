// Package conversations holds the durable per-subject conversation logs.
package conversations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dohr-michael/fintellix/internal/subjects"
)

// ErrStorageCorruption marks durable state that exists but cannot be decoded.
// Stores log it and fall back to an empty mapping; it never reaches callers.
var ErrStorageCorruption = errors.New("conversation storage corrupted")

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single immutable turn.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Ts      time.Time `json:"ts,omitzero"`
}

// Conversation is the ordered log for one subject plus its cached
// supplementary data (a price series snapshot, for instance).
type Conversation struct {
	Subject  subjects.Key    `json:"-"`
	Messages []Message       `json:"messages"`
	Data     json.RawMessage `json:"stock_data,omitempty"`
}

// Append adds a message stamped with the current time.
func (c *Conversation) Append(role Role, content string) Message {
	m := Message{Role: role, Content: content, Ts: time.Now().UTC()}
	c.Messages = append(c.Messages, m)
	return m
}

// StartedAt returns the timestamp of the first message, zero if unknown.
func (c *Conversation) StartedAt() time.Time {
	if len(c.Messages) == 0 {
		return time.Time{}
	}
	return c.Messages[0].Ts
}

// Clone returns a deep copy that shares no slices with c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := &Conversation{Subject: c.Subject}
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	if c.Data != nil {
		out.Data = append(json.RawMessage(nil), c.Data...)
	}
	return out
}

// CloneAll deep copies a mapping.
func CloneAll(m map[subjects.Key]*Conversation) map[subjects.Key]*Conversation {
	out := make(map[subjects.Key]*Conversation, len(m))
	for k, c := range m {
		out[k] = c.Clone()
	}
	return out
}

// Store persists the subject -> conversation mapping.
//
// Load never fails: absent storage and corrupt storage both yield an empty
// mapping. Save atomically replaces everything previously stored and is safe
// to call from several goroutines.
type Store interface {
	Load() map[subjects.Key]*Conversation
	Save(map[subjects.Key]*Conversation) error
	Clear() error
}

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open builds the store for driver rooted at dir.
func Open(driver, dir string) (Store, error) {
	switch driver {
	case "", DriverFile:
		return NewFileStore(filepath.Join(dir, "conversations.json")), nil
	case DriverSQLite:
		return NewSQLiteStore(filepath.Join(dir, "conversations.db"))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// normalizeData maps a JSON null to no data and strips insignificant
// whitespace, so every backend returns the blob in the same form.
func normalizeData(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return json.RawMessage(buf.Bytes())
}

// CompactData returns raw in the form the stores load it back in.
func CompactData(raw json.RawMessage) json.RawMessage {
	return normalizeData(raw)
}

// mergeLoaded adds c to out under key. Stored names that normalize to the
// same key are folded together: messages append in the order the names are
// visited and the first non-empty data blob wins. Callers visit names sorted.
func mergeLoaded(out map[subjects.Key]*Conversation, key subjects.Key, name string, c *Conversation) {
	c.Subject = key
	c.Data = normalizeData(c.Data)
	if c.Messages == nil {
		c.Messages = []Message{}
	}

	prev, ok := out[key]
	if !ok {
		out[key] = c
		return
	}
	slog.Warn("conversations: merging entries with the same subject", "subject", key, "stored_as", name)
	prev.Messages = append(prev.Messages, c.Messages...)
	if prev.Data == nil {
		prev.Data = c.Data
	}
}
