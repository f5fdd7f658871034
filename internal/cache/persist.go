package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// filePersist stores one JSON record per key under dir, using the first two
// characters of the key as a subdirectory to keep directories small.
type filePersist struct {
	dir string
}

func newFilePersist(dir string) (*filePersist, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory not set")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &filePersist{dir: dir}, nil
}

func (p *filePersist) path(key string) string {
	subdir := key
	if len(key) >= 2 {
		subdir = key[:2]
	}
	return filepath.Join(p.dir, subdir, key+".json")
}

// load reads the record for key. A corrupted record is deleted and reported
// as absent so the caller re-fetches instead of failing.
func (p *filePersist) load(key string) (*Entry, bool) {
	path := p.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cache: durable read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.Warn("cache: removing corrupt record", "key", key, "error", err)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Debug("cache: failed to remove corrupt record", "key", key, "error", err)
		}
		return nil, false
	}
	return &entry, true
}

// store writes the record atomically: temp file in the same directory, then
// rename, so a concurrent load never observes a half-written record.
func (p *filePersist) store(entry *Entry) error {
	path := p.path(entry.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit cache record: %w", err)
	}
	return nil
}

func (p *filePersist) delete(key string) {
	if err := os.Remove(p.path(key)); err != nil && !os.IsNotExist(err) {
		slog.Debug("cache: durable delete failed", "key", key, "error", err)
	}
}

// deleteNamespace removes every record whose metadata namespace matches.
// Records are written with the namespace as the key prefix, so the walk can
// skip files cheaply by name, but the name alone is ambiguous when one
// namespace is a prefix of another, so each candidate is decoded and its
// recorded namespace compared exactly.
func (p *filePersist) deleteNamespace(namespace string) {
	prefix := namespace + "_"
	err := filepath.Walk(p.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		if !strings.HasPrefix(filepath.Base(path), prefix) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err == nil && entry.Metadata["namespace"] != namespace {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Debug("cache: namespace delete failed", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		slog.Warn("cache: namespace sweep failed", "namespace", namespace, "error", err)
	}
}

func (p *filePersist) deleteAll() {
	if err := os.RemoveAll(p.dir); err != nil {
		slog.Warn("cache: clear failed", "dir", p.dir, "error", err)
		return
	}
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		slog.Warn("cache: failed to recreate cache directory", "dir", p.dir, "error", err)
	}
}
