// Package sessionfile persists the session record in a YAML credentials
// file readable only by its owner.
package sessionfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/stockway/portal/internal/serviceerr"
	"github.com/stockway/portal/internal/session"
)

const fileMode = 0o600

// Keys names the three logical entries of the session record.
type Keys struct {
	AccessToken  string
	RefreshToken string
	Identity     string
}

type Repository struct {
	path string
	keys Keys
}

var _ = session.Repository(&Repository{})

func NewRepository(path string, keys Keys) *Repository {
	return &Repository{path: path, keys: keys}
}

func (r *Repository) Load(_ context.Context) (session.Record, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return session.Record{}, serviceerr.ErrNotFound
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("reading credentials file: %w", err)
	}

	var entries map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return session.Record{}, errors.Join(serviceerr.ErrInconsistentRecord, fmt.Errorf("decoding credentials file: %w", err))
	}
	if len(entries) == 0 {
		return session.Record{}, serviceerr.ErrNotFound
	}

	rec := session.Record{
		AccessToken:  entries[r.keys.AccessToken],
		RefreshToken: entries[r.keys.RefreshToken],
	}

	if blob := entries[r.keys.Identity]; blob != "" {
		var identity session.Identity
		if err := json.Unmarshal([]byte(blob), &identity); err != nil {
			return session.Record{}, errors.Join(serviceerr.ErrInconsistentRecord, fmt.Errorf("decoding identity: %w", err))
		}
		rec.Identity = &identity
	}

	return rec, nil
}

func (r *Repository) Store(_ context.Context, rec session.Record) error {
	entries := map[string]string{
		r.keys.AccessToken:  rec.AccessToken,
		r.keys.RefreshToken: rec.RefreshToken,
	}

	if rec.Identity != nil {
		blob, err := json.Marshal(rec.Identity)
		if err != nil {
			return fmt.Errorf("encoding identity: %w", err)
		}
		entries[r.keys.Identity] = string(blob)
	}

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding credentials file: %w", err)
	}

	return r.replace(data)
}

func (r *Repository) Clear(_ context.Context) error {
	err := os.Remove(r.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing credentials file: %w", err)
	}

	return nil
}

// replace swaps the file content in one rename so readers never see a
// partially written record.
func (r *Repository) replace(data []byte) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary credentials file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("restricting credentials file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing credentials file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing credentials file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing credentials file: %w", err)
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replacing credentials file: %w", err)
	}

	return nil
}
