// Package audit implements the tamper-evident, hash-chained, HMAC-signed
// append-only event log. Every governance-relevant event in the kernel is
// recorded here with actor=operator|agent|gate.
package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ara-systems/ara/internal/arerr"
)

// Actor is a closed enumeration.
type Actor string

const (
	ActorOperator Actor = "operator"
	ActorAgent    Actor = "agent"
	ActorGate     Actor = "gate"
)

// Entry is one canonical audit record.
//
// On-disk format (per §6): one line per entry,
// `timestamp | session_id | event_type | actor | details_json | prev_hash | hmac`.
type Entry struct {
	Timestamp time.Time
	SessionID string
	EventType string
	Actor     Actor
	Details   map[string]interface{}
	PrevHash  string
	HMAC      string
}

// canonical returns the byte sequence whose SHA-256 becomes the next
// entry's prev_hash, and whose HMAC becomes this entry's hmac. It
// excludes the hmac field itself (computed over everything else).
func (e Entry) canonical() []byte {
	details, _ := json.Marshal(e.Details)
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.SessionID, e.EventType, e.Actor, details, e.PrevHash))
}

// line renders the entry into its on-disk pipe-delimited form.
func (e Entry) line() string {
	details, _ := json.Marshal(e.Details)
	return fmt.Sprintf("%s | %s | %s | %s | %s | %s | %s",
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.SessionID, e.EventType, e.Actor, details, e.PrevHash, e.HMAC)
}

func parseLine(line string) (Entry, error) {
	parts := strings.SplitN(line, " | ", 7)
	if len(parts) != 7 {
		return Entry{}, arerr.New(arerr.KindAuditTampered, "malformed audit line")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Entry{}, arerr.Wrap(arerr.KindAuditTampered, "malformed timestamp", err)
	}
	var details map[string]interface{}
	if err := json.Unmarshal([]byte(parts[4]), &details); err != nil {
		return Entry{}, arerr.Wrap(arerr.KindAuditTampered, "malformed details", err)
	}
	return Entry{
		Timestamp: ts,
		SessionID: parts[1],
		EventType: parts[2],
		Actor:     Actor(parts[3]),
		Details:   details,
		PrevHash:  parts[5],
		HMAC:      parts[6],
	}, nil
}

var zeroHash = strings.Repeat("0", 64)

// Log is a single process-wide append-only writer over one chain file.
// The HMAC key is process-lifetime and supplied by the credential store.
type Log struct {
	mu       sync.Mutex
	path     string
	key      []byte
	lastHash string
}

// Open opens (creating if absent) the chain file at path, recomputing
// lastHash from the final line so appends continue the existing chain.
func Open(path string, hmacKey []byte) (*Log, error) {
	l := &Log{path: path, key: hmacKey, lastHash: zeroHash}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot open audit log", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var last Entry
	found := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		last = e
		found = true
	}
	if err := scanner.Err(); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot scan audit log", err)
	}
	if found {
		l.lastHash = hex.EncodeToString(sha256.Sum256(last.canonical())[:])
	}
	return l, nil
}

// Append writes a new entry, chaining it from the last written entry.
func (l *Log) Append(sessionID, eventType string, actor Actor, details map[string]interface{}) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Timestamp: time.Now(),
		SessionID: sessionID,
		EventType: eventType,
		Actor:     actor,
		Details:   details,
		PrevHash:  l.lastHash,
	}
	mac := hmac.New(sha256.New, l.key)
	mac.Write(e.canonical())
	e.HMAC = hex.EncodeToString(mac.Sum(nil))

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return Entry{}, arerr.Wrap(arerr.KindInternal, "cannot open audit log for append", err)
	}
	defer f.Close()

	if _, err := f.WriteString(e.line() + "\n"); err != nil {
		return Entry{}, arerr.Wrap(arerr.KindInternal, "cannot append audit entry", err)
	}
	if err := f.Sync(); err != nil {
		return Entry{}, arerr.Wrap(arerr.KindInternal, "cannot fsync audit log", err)
	}

	l.lastHash = hex.EncodeToString(sha256.Sum256(e.canonical())[:])
	return e, nil
}

// VerifyChain walks the log recomputing prev_hash and hmac for every
// entry, failing closed at the first discrepancy.
func (l *Log) VerifyChain() (valid bool, entriesChecked int, err error) {
	f, err := os.Open(l.path)
	if err != nil {
		return false, 0, arerr.Wrap(arerr.KindInternal, "cannot open audit log", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	prevHash := zeroHash
	n := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, perr := parseLine(line)
		if perr != nil {
			return false, n, nil
		}
		if e.PrevHash != prevHash {
			return false, n, nil
		}
		mac := hmac.New(sha256.New, l.key)
		mac.Write(e.canonical())
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(e.HMAC)) {
			return false, n, nil
		}
		prevHash = hex.EncodeToString(sha256.Sum256(e.canonical())[:])
		n++
	}
	if err := scanner.Err(); err != nil {
		return false, n, arerr.Wrap(arerr.KindInternal, "cannot scan audit log", err)
	}
	return true, n, nil
}

// Query streams entries whose SessionID matches sessionID (empty matches
// all entries).
func (l *Log) Query(sessionID string) ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot open audit log", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var out []Entry
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, perr := parseLine(line)
		if perr != nil {
			return nil, perr
		}
		if sessionID == "" || e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, scanner.Err()
}

// Rotate appends a rotation-marker entry then starts a fresh chain file
// at newPath under a new HMAC key, per the key-rotation policy.
func (l *Log) Rotate(newPath string, newKey []byte) (*Log, error) {
	if _, err := l.Append("", "chain_rotated", ActorOperator, map[string]interface{}{"new_path": newPath}); err != nil {
		return nil, err
	}
	return Open(newPath, newKey)
}
