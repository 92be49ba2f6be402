package transcription

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/echonote/engine/internal/errs"
	"github.com/echonote/engine/pkg/speech"
)

const sidecarPermission = 0o600

// sidecar persists engine-only transcription options (beam size, VAD flags,
// prompt, temperature, runtime model override) keyed by task id, atomically
// rewriting the whole file on every mutation. Grounded on the same
// renameio convention internal/vault and internal/filestore use for their
// own on-disk state (ManuGH-xg2g's internal/jobs/write_unix.go).
type sidecar struct {
	mu   sync.Mutex
	path string
}

func newSidecar(path string) *sidecar {
	return &sidecar{path: path}
}

func (s *sidecar) load() (map[string]speech.Options, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]speech.Options{}, nil
	}
	if err != nil {
		return nil, errs.Transientf("transcription: read sidecar %q: %w", s.path, err)
	}
	var m map[string]speech.Options
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.Integrityf("transcription: decode sidecar %q: %w", s.path, err)
	}
	if m == nil {
		m = map[string]speech.Options{}
	}
	return m, nil
}

func (s *sidecar) save(m map[string]speech.Options) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errs.Fatalf("transcription: encode sidecar: %w", err)
	}
	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(sidecarPermission))
	if err != nil {
		return errs.Fatalf("transcription: create pending sidecar file: %w", err)
	}
	defer pending.Cleanup()
	if _, err := pending.Write(data); err != nil {
		return errs.Fatalf("transcription: write sidecar: %w", err)
	}
	return pending.CloseAtomicallyReplace()
}

// set persists opts for id, read-modify-write under the sidecar's own lock.
func (s *sidecar) set(id string, opts speech.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	m[id] = opts
	return s.save(m)
}

// get returns the persisted options for id, if any.
func (s *sidecar) get(id string) (speech.Options, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return speech.Options{}, false
	}
	opts, ok := m[id]
	return opts, ok
}

// delete removes id's entry, a no-op if absent.
func (s *sidecar) delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return
	}
	if _, ok := m[id]; !ok {
		return
	}
	delete(m, id)
	_ = s.save(m)
}

// gc removes every entry whose task id is not in validIDs, the
// restart-recovery step that purges sidecar entries for tasks that no
// longer exist.
func (s *sidecar) gc(validIDs map[string]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return 0, err
	}
	removed := 0
	for id := range m {
		if !validIDs[id] {
			delete(m, id)
			removed++
		}
	}
	if removed > 0 {
		if err := s.save(m); err != nil {
			return 0, err
		}
	}
	return removed, nil
}
