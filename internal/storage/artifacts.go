package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"videobatch/internal/domain"
)

// Mirror copies stored artifacts to a secondary location and returns the
// reference to use for them.
type Mirror interface {
	Put(ctx context.Context, key, path, contentType string) (string, error)
}

// ArtifactStore writes captured artifacts under deterministic names and
// optionally mirrors them.
type ArtifactStore struct {
	files    *FileStore
	mirror   Mirror
	category string
	now      func() time.Time
	logger   zerolog.Logger
}

// ArtifactOption customises an ArtifactStore.
type ArtifactOption func(*ArtifactStore)

func WithMirror(m Mirror) ArtifactOption {
	return func(s *ArtifactStore) { s.mirror = m }
}

func WithClock(now func() time.Time) ArtifactOption {
	return func(s *ArtifactStore) { s.now = now }
}

func WithLogger(logger zerolog.Logger) ArtifactOption {
	return func(s *ArtifactStore) { s.logger = logger }
}

func NewArtifactStore(files *FileStore, opts ...ArtifactOption) (*ArtifactStore, error) {
	if files == nil {
		return nil, errors.New("storage: file store is required")
	}
	s := &ArtifactStore{files: files, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// WithCategory returns a copy of the store writing below category.
func (s *ArtifactStore) WithCategory(category string) *ArtifactStore {
	cp := *s
	cp.category = strings.TrimSpace(category)
	return &cp
}

// Files exposes the underlying file store.
func (s *ArtifactStore) Files() *FileStore { return s.files }

// Store persists res for job and returns its reference and local path.
func (s *ArtifactStore) Store(ctx context.Context, job domain.Job, res *domain.CaptureResult) (string, string, error) {
	if res == nil {
		return "", "", errors.New("storage: nothing captured")
	}
	ext := Extension(res.ContentType, res.Path)
	key := s.uniqueKey(ArtifactKey(s.category, job.Index, s.now(), job.Prompt, ext))

	var (
		stored string
		err    error
	)
	switch {
	case res.Path != "":
		stored, err = s.files.Import(ctx, key, res.Path)
	case len(res.Data) > 0:
		stored, err = s.files.Write(ctx, key, res.Data)
	default:
		return "", "", errors.New("storage: capture has neither file nor data")
	}
	if err != nil {
		return "", "", err
	}
	path, err := s.files.Path(stored)
	if err != nil {
		return "", "", err
	}

	ref := stored
	if s.mirror != nil {
		uri, err := s.mirror.Put(ctx, stored, path, res.ContentType)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", stored).Msg("storage: mirror upload failed")
		} else {
			ref = uri
		}
	}
	s.logger.Debug().Str("key", stored).Int("job_index", job.Index).Msg("storage: artifact stored")
	return ref, path, nil
}

// uniqueKey suffixes key when a concurrent run already used the same name.
func (s *ArtifactStore) uniqueKey(key string) string {
	if !s.files.Exists(key) {
		return key
	}
	dot := strings.LastIndex(key, ".")
	if dot <= strings.LastIndex(key, "/") {
		dot = len(key)
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d%s", key[:dot], n, key[dot:])
		if !s.files.Exists(candidate) {
			return candidate
		}
	}
}
