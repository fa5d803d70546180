// Package blob persists downloaded quiz definitions as named blobs with a
// small metadata sidecar, so a device can rehydrate its cache after a restart
// without any network access.
package blob

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

// FSStore keeps blobs on the local filesystem, one pair of files per quiz.
type FSStore struct{ base string }

func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "./data/quizzes"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{base: base}, nil
}

// Put writes the raw definition and its metadata sidecar atomically enough for
// a single-writer device: blob first, sidecar second, so a torn write leaves
// no listable entry.
func (s *FSStore) Put(meta domain.BlobMeta, raw []byte) error {
	if strings.TrimSpace(meta.QuizID) == "" {
		return errors.New("empty quiz id")
	}
	if err := os.WriteFile(s.path(meta.QuizID, ".json"), raw, 0o644); err != nil {
		return err
	}
	buf, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(meta.QuizID, ".meta.json"), buf, 0o644)
}

// Get returns the raw definition for a quiz id.
func (s *FSStore) Get(quizID string) ([]byte, error) {
	raw, err := os.ReadFile(s.path(quizID, ".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrQuizNotFound
	}
	return raw, err
}

// List returns the sidecar metadata of every stored definition. Unreadable
// sidecars are skipped rather than failing the whole listing.
func (s *FSStore) List() ([]domain.BlobMeta, error) {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return nil, err
	}
	var out []domain.BlobMeta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta.json") {
			continue
		}
		buf, err := os.ReadFile(filepath.Join(s.base, e.Name()))
		if err != nil {
			continue
		}
		var meta domain.BlobMeta
		if err := json.Unmarshal(buf, &meta); err != nil || meta.QuizID == "" {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// Delete removes both the blob and the sidecar. Deletion is irreversible: a
// later rehydrate pass finds nothing to resurrect.
func (s *FSStore) Delete(quizID string) error {
	blobErr := os.Remove(s.path(quizID, ".json"))
	metaErr := os.Remove(s.path(quizID, ".meta.json"))
	for _, err := range []error{blobErr, metaErr} {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *FSStore) path(quizID, suffix string) string {
	return filepath.Join(s.base, filepath.Clean(quizID)+suffix)
}
