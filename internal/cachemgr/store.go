/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cachemgr keeps the local video cache consistent with the set of
// URLs the compiled playlists can reach.
package cachemgr

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Store is a URL-keyed object store on a filesystem. Each entry is a data
// file named by the URL hash plus a sidecar recording the original URL so
// the cached key set can be enumerated.
type Store struct {
	fs  afero.Fs
	dir string
}

const urlSuffix = ".url"

// NewStore creates the store directory if needed.
func NewStore(fs afero.Fs, dir string) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{fs: fs, dir: dir}, nil
}

// Has reports whether url is cached.
func (s *Store) Has(url string) bool {
	ok, err := afero.Exists(s.fs, s.dataPath(url))
	return err == nil && ok
}

// Keys enumerates every cached URL.
func (s *Store) Keys() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("list cache dir: %w", err)
	}
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), urlSuffix) {
			continue
		}
		raw, err := afero.ReadFile(s.fs, path.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, string(raw))
	}
	return keys, nil
}

// Put stores the bytes for url, replacing any previous entry.
func (s *Store) Put(url string, r io.Reader) error {
	f, err := s.fs.Create(s.dataPath(url))
	if err != nil {
		return fmt.Errorf("create cache entry: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		s.fs.Remove(s.dataPath(url)) //nolint:errcheck
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.urlPath(url), []byte(url), 0o640)
}

// Delete removes url from the store. Deleting an absent entry is a no-op.
func (s *Store) Delete(url string) error {
	if err := s.fs.Remove(s.dataPath(url)); err != nil && !isNotExist(err) {
		return err
	}
	if err := s.fs.Remove(s.urlPath(url)); err != nil && !isNotExist(err) {
		return err
	}
	return nil
}

// Open returns a reader over the cached bytes.
func (s *Store) Open(url string) (io.ReadCloser, error) {
	return s.fs.Open(s.dataPath(url))
}

func (s *Store) dataPath(url string) string {
	return path.Join(s.dir, hashKey(url)+".bin")
}

func (s *Store) urlPath(url string) string {
	return path.Join(s.dir, hashKey(url)+urlSuffix)
}

func hashKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
