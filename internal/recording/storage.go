package recording

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// pathSegments is how many trailing path elements identify a record file,
// so the same fixture hashes identically on any checkout location.
const pathSegments = 4

// Storage holds record files in memory as pathHash -> inputHash -> base64
// output. Every change is written back to the whole file.
type Storage struct {
	mu    sync.Mutex
	items map[string]map[string]string
}

// NewStorage returns an empty Storage.
func NewStorage() *Storage {
	return &Storage{items: make(map[string]map[string]string)}
}

// PathHash is the sha1 hex of the last four segments of file.
func PathHash(file string) string {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(file)), "/")
	if len(parts) > pathSegments {
		parts = parts[len(parts)-pathSegments:]
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "/")))
	return hex.EncodeToString(sum[:])
}

// InputHash is the sha1 hex of the JSON encoding of inputs. encoding/json
// writes map keys in sorted order, which makes the hash order independent.
func InputHash(inputs map[string]any) (string, error) {
	raw, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("encode record inputs: %w", err)
	}
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:]), nil
}

// LoadFile reads file into memory unless it is already cached.
// A missing file is not an error.
func (s *Storage) LoadFile(file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(file, PathHash(file))
}

func (s *Storage) loadLocked(file, pathHash string) error {
	if len(s.items[pathHash]) > 0 {
		return nil
	}
	raw, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read record file: %w", err)
	}
	entries := make(map[string]string)
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("decode record file %s: %w", file, err)
	}
	s.items[pathHash] = entries
	return nil
}

// WriteFile writes the cached entries for file as indented JSON.
// It does nothing when no entries exist for file.
func (s *Storage) WriteFile(file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(file, PathHash(file))
}

func (s *Storage) writeLocked(file, pathHash string) error {
	entries, ok := s.items[pathHash]
	if !ok {
		return nil
	}
	raw, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("encode record file: %w", err)
	}
	if dir := filepath.Dir(file); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create record dir: %w", err)
		}
	}
	if err := os.WriteFile(file, raw, 0o644); err != nil {
		return fmt.Errorf("write record file: %w", err)
	}
	return nil
}

// Get returns the recorded output for inputs.
func (s *Storage) Get(file string, inputs map[string]any) (string, error) {
	inputHash, err := InputHash(inputs)
	if err != nil {
		return "", err
	}
	pathHash := PathHash(file)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[pathHash]; !ok {
		if err := s.loadLocked(file, pathHash); err != nil {
			return "", err
		}
	}
	entries, ok := s.items[pathHash]
	if !ok {
		return "", &RecordFileMissingError{File: file, PathHash: pathHash}
	}
	encoded, ok := entries[inputHash]
	if !ok {
		return "", &RecordItemMissingError{File: file, PathHash: pathHash, InputHash: inputHash, Inputs: inputs}
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode record item %s: %w", inputHash, err)
	}
	return string(decoded), nil
}

// Set stores output for inputs and rewrites the file. Unchanged values are
// not written again.
func (s *Storage) Set(file string, inputs map[string]any, output string) error {
	inputHash, err := InputHash(inputs)
	if err != nil {
		return err
	}
	pathHash := PathHash(file)
	encoded := base64.StdEncoding.EncodeToString([]byte(output))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[pathHash]; !ok {
		if err := s.loadLocked(file, pathHash); err != nil {
			return err
		}
	}
	entries, ok := s.items[pathHash]
	if !ok {
		entries = make(map[string]string)
		s.items[pathHash] = entries
	}
	if prev, ok := entries[inputHash]; ok && prev == encoded {
		return nil
	}
	entries[inputHash] = encoded
	return s.writeLocked(file, pathHash)
}
