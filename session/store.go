package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
)

// Payload kinds inside message_payload. The first record of a fresh session
// is a metadata record; tree replay skips it.
const (
	payloadKindSession = "session"
	payloadKindMessage = "message"
)

// Metadata describes a session, written as the first log record.
type Metadata struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type messagePayload struct {
	Kind    string          `json:"kind"`
	Message json.RawMessage `json:"message"`
}

// StoreOptions configures opening or creating a session store.
type StoreOptions struct {
	Provider string
	Model    string
	Logger   logging.Logger
}

// Store couples an append-only log with its replayed tree. Every appended
// message is durably written before the in-memory tree is updated, so the
// tree is always a replay of the log. Store is single-writer, matching the
// agent loop's concurrency model.
type Store struct {
	log    *Log
	tree   *Tree
	meta   Metadata
	logger logging.Logger
}

// NewStore creates a fresh session: a new uuid, a new log file named after it
// under dir, and a leading metadata record.
func NewStore(dir string, optFns ...func(*StoreOptions)) (*Store, error) {
	opts := applyStoreOptions(optFns)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create sessions dir: %w", err)
	}

	sid := uuid.NewString()
	l, records, err := OpenLog(filepath.Join(dir, sid+".jsonl"), func(lo *LogOptions) { lo.Logger = opts.Logger })
	if err != nil {
		return nil, err
	}
	if len(records) != 0 {
		l.Close()
		return nil, fmt.Errorf("session: fresh log %s is not empty", l.Path())
	}

	meta := Metadata{
		Kind:      payloadKindSession,
		SessionID: sid,
		Provider:  opts.Provider,
		Model:     opts.Model,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("session: encode metadata: %w", err)
	}
	if _, err := l.Append(sid, "", payload); err != nil {
		l.Close()
		return nil, err
	}

	opts.Logger.Info("Session created", "session_id", sid, "path", l.Path())
	return &Store{log: l, tree: NewTree(), meta: meta, logger: opts.Logger}, nil
}

// OpenStore resumes a session from an existing log file, replaying every
// complete record into the tree.
func OpenStore(path string, optFns ...func(*StoreOptions)) (*Store, error) {
	opts := applyStoreOptions(optFns)
	l, records, err := OpenLog(path, func(lo *LogOptions) { lo.Logger = opts.Logger })
	if err != nil {
		return nil, err
	}

	s := &Store{log: l, tree: NewTree(), logger: opts.Logger}
	for i, rec := range records {
		kind := gjson.GetBytes(rec.Payload, "kind").String()
		switch kind {
		case payloadKindSession:
			var meta Metadata
			if err := json.Unmarshal(rec.Payload, &meta); err != nil {
				l.Close()
				return nil, &CorruptRecordError{Path: path, Line: i + 1, Reason: err.Error()}
			}
			s.meta = meta
		case payloadKindMessage:
			if err := s.replayMessage(rec, i+1); err != nil {
				l.Close()
				return nil, err
			}
		default:
			// Unknown payload kinds are skipped so newer writers stay readable.
			opts.Logger.Warn("Skipping log record with unknown payload kind",
				"path", path, "kind", kind, "seq", rec.Seq)
		}
	}

	opts.Logger.Info("Session resumed",
		"session_id", s.meta.SessionID, "path", path, "nodes", s.tree.Len())
	return s, nil
}

func applyStoreOptions(optFns []func(*StoreOptions)) StoreOptions {
	opts := StoreOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return opts
}

func (s *Store) replayMessage(rec Record, line int) error {
	var payload messagePayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return &CorruptRecordError{Path: s.log.Path(), Line: line, Reason: err.Error()}
	}
	msg, err := core.UnmarshalMessage(payload.Message)
	if err != nil {
		return &CorruptRecordError{Path: s.log.Path(), Line: line, Reason: err.Error()}
	}
	return s.tree.Apply(&Node{
		ID:        rec.NodeID,
		ParentID:  rec.ParentID,
		Seq:       rec.Seq,
		Timestamp: rec.Timestamp,
		Message:   msg,
	})
}

// Append persists a message as a child of parentID (empty for the first
// message) and applies it to the tree. The write hits disk before the tree
// changes; a persistence failure leaves the tree untouched.
func (s *Store) Append(msg core.Message, parentID string) (*Node, error) {
	raw, err := core.MarshalMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("session: encode message: %w", err)
	}
	payload, err := json.Marshal(messagePayload{Kind: payloadKindMessage, Message: raw})
	if err != nil {
		return nil, fmt.Errorf("session: encode payload: %w", err)
	}

	nodeID := uuid.NewString()
	rec, err := s.log.Append(nodeID, parentID, payload)
	if err != nil {
		return nil, err
	}
	node := &Node{
		ID:        nodeID,
		ParentID:  parentID,
		Seq:       rec.Seq,
		Timestamp: rec.Timestamp,
		Message:   msg,
	}
	if err := s.tree.Apply(node); err != nil {
		return nil, err
	}
	return s.tree.Get(nodeID), nil
}

// AppendToCurrent persists a message as a child of the current leaf.
func (s *Store) AppendToCurrent(msg core.Message) (*Node, error) {
	return s.Append(msg, s.tree.CurrentLeaf())
}

// Tree exposes the replayed conversation tree.
func (s *Store) Tree() *Tree { return s.tree }

// Metadata returns the session metadata record, zero-valued for logs written
// without one.
func (s *Store) Metadata() Metadata { return s.meta }

// Path returns the underlying log file path.
func (s *Store) Path() string { return s.log.Path() }

// Close releases the log file handle.
func (s *Store) Close() error { return s.log.Close() }
