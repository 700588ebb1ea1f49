// Package file implements a storage.Adapter backed by a single
// append-only JSONL log, the embedded local store referenced by spec §6.
// It is modeled directly on the teacher's internal/history.FileWriter:
// every mutation is appended as a line rather than rewriting the file in
// place, the current state is an in-memory map rebuilt from the log at
// startup (the same "replay, keep latest per key" pass history's reader
// uses to restore service status), and Compact, when called, rewrites the
// log to only the live entries via the same atomic temp-file-and-rename
// strategy as history's Pruner.
package file

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/noexlabs/rulesengine/internal/storage"
)

type record struct {
	Seq       int64           `json:"seq"`
	Key       string          `json:"key"`
	Payload   storage.Payload `json:"payload,omitempty"`
	Tombstone bool            `json:"tombstone,omitempty"`
}

// Adapter is a storage.Adapter backed by an append-only JSONL file.
type Adapter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *slog.Logger
	data   map[string]storage.Payload
	seq    int64
}

// New opens (or creates) the log at path and replays it to reconstruct
// current state. If logger is nil, a no-op logger is used.
func New(path string, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	data, maxSeq, err := replay(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &Adapter{path: path, file: f, logger: logger, data: data, seq: maxSeq}, nil
}

func replay(path string) (map[string]storage.Payload, int64, error) {
	data := make(map[string]storage.Payload)
	var maxSeq int64

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
		if rec.Tombstone {
			delete(data, rec.Key)
			continue
		}
		data[rec.Key] = rec.Payload
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	return data, maxSeq, nil
}

func (a *Adapter) append(rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := a.file.Write(data); err != nil {
		a.logger.Error("storage file append failed", "error", err, "key", rec.Key)
		return err
	}
	return nil
}

func (a *Adapter) Save(key string, payload storage.Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	if err := a.append(record{Seq: a.seq, Key: key, Payload: payload}); err != nil {
		return err
	}
	a.data[key] = payload
	return nil
}

func (a *Adapter) Load(key string) (storage.Payload, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.data[key]
	return p, ok, nil
}

func (a *Adapter) Delete(key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, existed := a.data[key]
	if !existed {
		return false, nil
	}
	a.seq++
	if err := a.append(record{Seq: a.seq, Key: key, Tombstone: true}); err != nil {
		return false, err
	}
	delete(a.data, key)
	return true, nil
}

func (a *Adapter) Exists(key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.data[key]
	return ok, nil
}

func (a *Adapter) ListKeys(prefix string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var keys []string
	for k := range a.data {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Compact rewrites the log to contain exactly one live record per key,
// dropping tombstones and superseded writes, via the same atomic
// temp-file-and-rename strategy as the teacher's history.Prune.
func (a *Adapter) Compact() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tmpPath := a.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(a.data))
	for k := range a.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seq := int64(0)
	for _, k := range keys {
		seq++
		data, merr := json.Marshal(record{Seq: seq, Key: k, Payload: a.data[k]})
		if merr != nil {
			f.Close()
			os.Remove(tmpPath)
			return merr
		}
		data = append(data, '\n')
		if _, werr := f.Write(data); werr != nil {
			f.Close()
			os.Remove(tmpPath)
			return werr
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	a.file.Close()
	newFile, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	a.file = newFile
	a.seq = seq
	return nil
}

// Close closes the underlying file handle.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

var _ storage.Adapter = (*Adapter)(nil)
