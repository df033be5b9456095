package token

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Store persists a token record across two tiers: a local cache file
// written with atomic replace, and an optional remote blob store for
// durability across hosts. The local tier is authoritative for reads;
// the remote tier is the fallback and receives best-effort writes.
type Store struct {
	path   string
	remote BlobStore
	key    string
	logger zerolog.Logger
}

// SaveStatus reports how far a save propagated. RemoteErr is non-nil
// when the local write succeeded but remote replication failed.
type SaveStatus struct {
	Replicated bool
	RemoteErr  error
}

// NewStore creates a store over the local path and an optional remote
// tier. A nil remote degrades to local-only operation.
func NewStore(path string, remote BlobStore, key string, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		remote: remote,
		key:    key,
		logger: logger.With().Str("component", "token_store").Logger(),
	}
}

// Load reads the token record, local tier first. A local miss or
// unreadable file falls back to the remote tier; a remote hit is
// written through to the local file. When neither tier has a record,
// Load returns an empty record so a cold start can proceed to the
// auth-code flow.
func (s *Store) Load(ctx context.Context) (Record, error) {
	data, err := os.ReadFile(s.path)
	if err == nil {
		rec, decErr := DecodeRecord(data)
		if decErr == nil {
			return rec, nil
		}
		s.logger.Warn().Err(decErr).Str("path", s.path).Msg("local token cache unreadable, trying remote")
	} else if !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("local token cache unreadable, trying remote")
	}

	if s.remote == nil {
		return Record{}, nil
	}

	data, err = s.remote.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return Record{}, nil
		}
		s.logger.Warn().Err(err).Str("key", s.key).Msg("remote token load failed")
		return Record{}, nil
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", s.key).Msg("remote token record unparseable")
		return Record{}, nil
	}

	if err := s.writeLocal(data); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("failed to write through token cache")
	}

	return rec, nil
}

// Save persists the record. The local write is the durability
// guarantee and its failure fails the call; remote replication is
// best-effort and reported through SaveStatus.
func (s *Store) Save(ctx context.Context, rec Record) (SaveStatus, error) {
	data, err := rec.Encode()
	if err != nil {
		return SaveStatus{}, err
	}

	if err := s.writeLocal(data); err != nil {
		return SaveStatus{}, fmt.Errorf("local token save: %w", err)
	}

	var status SaveStatus
	if s.remote == nil {
		return status, nil
	}

	if err := s.remote.Put(ctx, s.key, data); err != nil {
		s.logger.Warn().Err(err).Str("key", s.key).Msg("token record not replicated to remote store")
		status.RemoteErr = err
		return status, nil
	}

	status.Replicated = true
	return status, nil
}

// writeLocal replaces the cache file atomically via temp file + rename
func (s *Store) writeLocal(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, s.path)
}
