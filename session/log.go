package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/convoke-ai/convoke/logging"
)

// Record is one line of the session log: newline-delimited JSON, one object
// per line, never rewritten after append.
type Record struct {
	Seq       uint64          `json:"sequence_number"`
	NodeID    string          `json:"node_id"`
	ParentID  string          `json:"parent_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"message_payload"`
}

// CorruptRecordError reports an unreadable log line. A corrupt final line is
// discarded during load (partial write from a crash); corruption earlier in
// the file is fatal because everything after it is unanchored.
type CorruptRecordError struct {
	Path   string
	Line   int
	Reason string
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("session: corrupt record at %s:%d: %s", e.Path, e.Line, e.Reason)
}

// Log is a single-writer append-only JSONL file. Appends are flushed and
// fsynced before returning so readers may safely consume any prefix already
// written. Log is safe for concurrent Append calls.
type Log struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	path   string
	next   uint64
	closed bool
	logger logging.Logger
}

// LogOptions configures opening a session log.
type LogOptions struct {
	Logger logging.Logger
}

// OpenLog opens (or creates) the log at path for appending and returns the
// records already present. A truncated or malformed final line is discarded
// with a warning and subsequent appends start after the last complete record.
func OpenLog(path string, optFns ...func(*LogOptions)) (*Log, []Record, error) {
	opts := LogOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	records, intact, err := readRecords(path, opts.Logger)
	if err != nil {
		return nil, nil, err
	}
	if info, statErr := os.Stat(path); statErr == nil && info.Size() > intact {
		// Cut the partial tail off the file as well, otherwise the next
		// append would glue onto it and corrupt the middle of the log.
		if err := os.Truncate(path, intact); err != nil {
			return nil, nil, fmt.Errorf("session: truncate partial record: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("session: open log: %w", err)
	}

	var next uint64 = 1
	if len(records) > 0 {
		next = records[len(records)-1].Seq + 1
	}
	l := &Log{
		f:      f,
		w:      bufio.NewWriter(f),
		path:   path,
		next:   next,
		logger: opts.Logger,
	}
	return l, records, nil
}

// readRecords loads every structurally complete record, tolerating a cut
// final line. It also returns the byte length of the intact prefix so the
// caller can trim a partial tail before appending.
func readRecords(path string, logger logging.Logger) ([]Record, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("session: read log: %w", err)
	}
	defer f.Close()

	var records []Record
	reader := bufio.NewReader(f)
	lineNo := 0
	var offset, intact int64
	for {
		line, err := reader.ReadBytes('\n')
		atEOF := err == io.EOF
		if err != nil && !atEOF {
			return nil, 0, fmt.Errorf("session: read log: %w", err)
		}
		offset += int64(len(line))
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			lineNo++
			var rec Record
			if decodeErr := decodeRecord(trimmed, &rec); decodeErr != nil {
				if atEOF {
					// Partial write from a crash; drop the tail and continue.
					logger.Warn("Discarding truncated final log record",
						"path", path, "line", lineNo, "reason", decodeErr.Error())
					return records, intact, nil
				}
				return nil, 0, &CorruptRecordError{Path: path, Line: lineNo, Reason: decodeErr.Error()}
			}
			records = append(records, rec)
		}
		intact = offset
		if atEOF {
			return records, intact, nil
		}
	}
}

func decodeRecord(line []byte, rec *Record) error {
	if err := json.Unmarshal(line, rec); err != nil {
		return err
	}
	if rec.NodeID == "" {
		return fmt.Errorf("missing node_id")
	}
	if len(rec.Payload) == 0 {
		return fmt.Errorf("missing message_payload")
	}
	return nil
}

// Append assigns the next sequence number, writes the record as one JSON
// line, and fsyncs before returning.
func (l *Log) Append(nodeID, parentID string, payload json.RawMessage) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Record{}, fmt.Errorf("session: append to closed log %s", l.path)
	}

	rec := Record{
		Seq:       l.next,
		NodeID:    nodeID,
		ParentID:  parentID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("session: encode record: %w", err)
	}
	if _, err := l.w.Write(line); err != nil {
		return Record{}, fmt.Errorf("session: append record: %w", err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return Record{}, fmt.Errorf("session: append record: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return Record{}, fmt.Errorf("session: flush record: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return Record{}, fmt.Errorf("session: sync record: %w", err)
	}
	l.next++
	return rec, nil
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Close flushes and closes the underlying file. Further appends fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return fmt.Errorf("session: close log: %w", err)
	}
	return l.f.Close()
}
