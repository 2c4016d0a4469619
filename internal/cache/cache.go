// Package cache implements the three content-addressed JSON caches (§4.1):
// diarization, separation, and LLM. Each is a directory of `<key>.json`
// files with mtime-based TTL expiry and atomic write-then-rename writes —
// plain os/filepath is the smallest correct tool for that shape of problem,
// so no caching library is pulled in here.
package cache

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Result is the outcome of a Get.
type Result int

const (
	Hit Result = iota
	Miss
	Stale
)

// Store is one content-addressed cache directory.
type Store struct {
	dir string
	ttl time.Duration // 0 means never expire
}

// Open ensures dir exists and returns a Store backed by it. ttl=0 disables expiry.
func Open(dir string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache open %s: %w", dir, err)
	}
	return &Store{dir: dir, ttl: ttl}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads payload for key. A stale entry is deleted and reported as Stale
// (later reads of that key report Miss), matching "always delete-on-stale" (§9). Any IO error is treated as Miss —
// the cache is a best-effort optimization (§4.1).
func (s *Store) Get(key string, out any) Result {
	p := s.path(key)
	info, err := os.Stat(p)
	if err != nil {
		return Miss
	}
	if s.ttl > 0 && time.Since(info.ModTime()) > s.ttl {
		_ = os.Remove(p)
		return Stale
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return Miss
	}
	if err := json.Unmarshal(data, out); err != nil {
		return Miss
	}
	return Hit
}

// Put writes payload for key via write-to-temp + atomic rename (§9): a
// half-written cache file is as bad as a wrong answer. IO errors are
// returned so the caller can log and ignore (§4.1) — never fatal.
func (s *Store) Put(key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cache write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache close: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache rename: %w", err)
	}
	return nil
}

// InvalidateAll removes every entry in the store.
func (s *Store) InvalidateAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ExportAll writes every cache entry into a zip archive at archivePath.
func (s *Store) ExportAll(archivePath string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		w, err := zw.Create(e.Name())
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
var repeatUnderscore = regexp.MustCompile(`_+`)

// Sanitize turns name into a filesystem-safe cache-key component (§4.1):
// replace any non [A-Za-z0-9_-] with '_', collapse repeats, strip leading/
// trailing '_'. Empty input defaults to "audio".
func Sanitize(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	s = repeatUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "audio"
	}
	return s
}

// DiarizationKey builds the diarization cache key (§4.1).
func DiarizationKey(baseName, language, speakerHint, mode, engine string) string {
	return fmt.Sprintf("%s_%s_%s_%s_%s", Sanitize(baseName), Sanitize(language), Sanitize(speakerHint), Sanitize(mode), Sanitize(engine))
}

// SeparationKey builds the separation cache key (§4.1). audioHash may be
// empty when no content hash is available.
func SeparationKey(baseName, pipelineMode, audioHash string) string {
	key := fmt.Sprintf("sep_%s_%s", Sanitize(baseName), Sanitize(pipelineMode))
	if audioHash != "" {
		h := audioHash
		if len(h) > 16 {
			h = h[:16]
		}
		key += "_" + h
	}
	return key
}

// LLMKey builds the LLM cache key (§4.1). demoMode may be empty, in which
// case the demo suffix is omitted entirely.
func LLMKey(baseName, prompt, model, mode, variant, demoMode string) string {
	sum := sha256.Sum256([]byte(prompt))
	hash := hex.EncodeToString(sum[:])[:16]
	key := fmt.Sprintf("%s_%s_%s_%s_%s", Sanitize(baseName), hash, Sanitize(model), Sanitize(mode), Sanitize(variant))
	if demoMode != "" {
		key += "_demo_" + Sanitize(demoMode)
	}
	return key
}

// RoleKey builds the role-analysis cache key (§4.4): a transcript fingerprint
// scoped by language and mode.
func RoleKey(transcript, language, mode string) string {
	lower := strings.ToLower(transcript)
	sum := sha256.Sum256([]byte(lower))
	hash := hex.EncodeToString(sum[:])[:16]
	return fmt.Sprintf("%s_%s_%s", hash, Sanitize(language), Sanitize(mode))
}

// HashReader returns a sha256 hex digest of r's content, for audio-content
// fingerprinting used by SeparationKey.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
