// Package filestore implements the File Store: a rooted directory layout
// for recordings, transcripts, and export artifacts, with owner-only
// permissions and a TTL sweep for scratch files. Grounded on the
// directory-and-permission conventions the teacher uses throughout its
// file-backed managers (e.g. internal/dvr/manager.go's 0600 writes),
// generalized here into a dedicated rooted layout.
package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/echonote/engine/internal/errs"
)

const (
	filePermission = 0o600
	dirPermission  = 0o700
)

// Category is one of the rooted subdirectories the store maintains.
type Category string

const (
	Recordings  Category = "Recordings"
	Transcripts Category = "Transcripts"
	Exports     Category = "Exports"
	Temp        Category = "Temp"
)

// Store enforces the rooted directory layout and provides the file
// operations the Transcription Manager, Realtime Recorder, and Timeline
// Aggregator use to read and write artifacts.
type Store struct {
	root          string
	recordingsDir string
}

// Options configures a Store. RecordingsDir overrides where recordings are
// written, independent of the rest of the layout, per spec §4.3.
type Options struct {
	RecordingsDir string
}

// Open creates (if absent) the rooted directory layout under root and
// returns a ready Store.
func Open(root string, opts Options) (*Store, error) {
	recordingsDir := opts.RecordingsDir
	if recordingsDir == "" {
		recordingsDir = filepath.Join(root, string(Recordings))
	}

	s := &Store{root: root, recordingsDir: recordingsDir}

	for _, dir := range []string{
		s.categoryDir(Transcripts),
		s.categoryDir(Exports),
		s.categoryDir(Temp),
		s.recordingsDir,
	} {
		if err := os.MkdirAll(dir, dirPermission); err != nil {
			return nil, errs.Fatalf("filestore: create directory %q: %w", dir, err)
		}
	}

	return s, nil
}

// categoryDir resolves a category to its absolute directory, honoring the
// separately-configurable recordings directory.
func (s *Store) categoryDir(c Category) string {
	if c == Recordings {
		return s.recordingsDir
	}
	return filepath.Join(s.root, string(c))
}

// path resolves name within a category, rejecting any attempt to escape the
// category directory via path traversal.
func (s *Store) path(c Category, name string) (string, error) {
	dir := s.categoryDir(c)
	full := filepath.Join(dir, name)
	if !strings.HasPrefix(full, filepath.Clean(dir)+string(os.PathSeparator)) && full != filepath.Clean(dir) {
		return "", errs.Validationf("filestore: %q escapes category directory", name)
	}
	return full, nil
}

// Save writes data to name within category c, atomically and with
// owner-only permissions.
func (s *Store) Save(c Category, name string, data []byte) (string, error) {
	full, err := s.path(c, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), dirPermission); err != nil {
		return "", errs.Fatalf("filestore: create parent dir for %q: %w", full, err)
	}

	pending, err := renameio.NewPendingFile(full, renameio.WithPermissions(filePermission))
	if err != nil {
		return "", errs.Fatalf("filestore: create pending file %q: %w", full, err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return "", errs.Fatalf("filestore: write %q: %w", full, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", errs.Fatalf("filestore: commit %q: %w", full, err)
	}
	return full, nil
}

// Read returns the contents of name within category c.
func (s *Store) Read(c Category, name string) ([]byte, error) {
	full, err := s.path(c, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, errs.NotFoundf("filestore: %q not found", full)
	}
	if err != nil {
		return nil, errs.Transientf("filestore: read %q: %w", full, err)
	}
	return data, nil
}

// Delete removes name within category c. Deleting an already-absent file
// is not an error.
func (s *Store) Delete(c Category, name string) error {
	full, err := s.path(c, name)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errs.Transientf("filestore: delete %q: %w", full, err)
	}
	return nil
}

// Move relocates a file from one category/name to another, preferring a
// same-filesystem rename and falling back to copy+delete across devices.
func (s *Store) Move(fromCat Category, fromName string, toCat Category, toName string) (string, error) {
	from, err := s.path(fromCat, fromName)
	if err != nil {
		return "", err
	}
	to, err := s.path(toCat, toName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(to), dirPermission); err != nil {
		return "", errs.Fatalf("filestore: create parent dir for %q: %w", to, err)
	}

	if err := os.Rename(from, to); err == nil {
		return to, nil
	}

	data, err := os.ReadFile(from)
	if err != nil {
		return "", errs.Transientf("filestore: read %q for cross-device move: %w", from, err)
	}
	if err := os.WriteFile(to, data, filePermission); err != nil {
		return "", errs.Transientf("filestore: write %q for cross-device move: %w", to, err)
	}
	if err := os.Remove(from); err != nil {
		return "", errs.Transientf("filestore: remove source %q after move: %w", from, err)
	}
	return to, nil
}

// Copy duplicates a file within/across categories, preserving owner-only
// permissions on the destination.
func (s *Store) Copy(fromCat Category, fromName string, toCat Category, toName string) (string, error) {
	from, err := s.path(fromCat, fromName)
	if err != nil {
		return "", err
	}
	to, err := s.path(toCat, toName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(to), dirPermission); err != nil {
		return "", errs.Fatalf("filestore: create parent dir for %q: %w", to, err)
	}

	src, err := os.Open(from)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.NotFoundf("filestore: %q not found", from)
		}
		return "", errs.Transientf("filestore: open %q: %w", from, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermission)
	if err != nil {
		return "", errs.Transientf("filestore: create %q: %w", to, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", errs.Transientf("filestore: copy %q to %q: %w", from, to, err)
	}
	return to, nil
}

// Exists reports whether name exists within category c.
func (s *Store) Exists(c Category, name string) bool {
	full, err := s.path(c, name)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// Size returns the byte size of name within category c.
func (s *Store) Size(c Category, name string) (int64, error) {
	full, err := s.path(c, name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return 0, errs.NotFoundf("filestore: %q not found", full)
	}
	if err != nil {
		return 0, errs.Transientf("filestore: stat %q: %w", full, err)
	}
	return info.Size(), nil
}

// UniqueName returns a name within category c that does not currently
// exist, appending "_N" before the extension when name is taken.
func (s *Store) UniqueName(c Category, name string) string {
	if !s.Exists(c, name) {
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !s.Exists(c, candidate) {
			return candidate
		}
	}
}

// SweepTemp removes files under Temp/ whose modification time is older
// than ttl.
func (s *Store) SweepTemp(ttl time.Duration) (int, error) {
	dir := s.categoryDir(Temp)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errs.Transientf("filestore: read temp dir %q: %w", dir, err)
	}

	cutoff := time.Now().Add(-ttl)
	swept := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				swept++
			}
		}
	}
	return swept, nil
}

// Dir returns the absolute directory for a category, for callers (e.g. the
// Timeline Aggregator's attachment scan) that need to walk it directly.
func (s *Store) Dir(c Category) string {
	return s.categoryDir(c)
}
