package sessionvalkey

import (
	"context"
	"errors"
	"fmt"

	"github.com/valkey-io/valkey-go"

	"github.com/stockway/portal/internal/serviceerr"
	"github.com/stockway/portal/internal/session"
)

type ObjectType string

const objectTypeSession ObjectType = "session"

// Keys names the three logical entries of the session record.
type Keys struct {
	AccessToken  string
	RefreshToken string
	Identity     string
}

var (
	ErrLoadSession  = errors.New("getting session from store")
	ErrStoreSession = errors.New("setting session into storage")
	ErrClearSession = errors.New("deleting session from store")
)

// Repository persists the session record of one client profile in valkey.
type Repository struct {
	store   *store
	profile string
	keys    Keys
}

var _ = session.Repository(&Repository{})

func NewRepository(valkeyClient valkey.Client, prefix, profile string, keys Keys) *Repository {
	return &Repository{
		store:   newStore(valkeyClient, prefix),
		profile: profile,
		keys:    keys,
	}
}

func (r *Repository) Load(ctx context.Context) (session.Record, error) {
	fields, err := r.store.GetFields(ctx, objectTypeSession, r.profile)
	if err != nil {
		return session.Record{}, errors.Join(ErrLoadSession, err)
	}

	if len(fields) == 0 {
		return session.Record{}, serviceerr.ErrNotFound
	}

	rec := session.Record{
		AccessToken:  fields[r.keys.AccessToken],
		RefreshToken: fields[r.keys.RefreshToken],
	}

	if blob := fields[r.keys.Identity]; blob != "" {
		var identity session.Identity
		if err := r.store.decode([]byte(blob), &identity); err != nil {
			return session.Record{}, errors.Join(ErrLoadSession, serviceerr.ErrInconsistentRecord, err)
		}
		rec.Identity = &identity
	}

	return rec, nil
}

func (r *Repository) Store(ctx context.Context, rec session.Record) error {
	var identity string
	if rec.Identity != nil {
		blob, err := r.store.encode(rec.Identity)
		if err != nil {
			return errors.Join(ErrStoreSession, err)
		}
		identity = string(blob)
	}

	fields := map[string]string{
		r.keys.AccessToken:  rec.AccessToken,
		r.keys.RefreshToken: rec.RefreshToken,
		r.keys.Identity:     identity,
	}
	if err := r.store.SetFields(ctx, objectTypeSession, r.profile, fields); err != nil {
		return errors.Join(ErrStoreSession, err)
	}

	return nil
}

func (r *Repository) Clear(ctx context.Context) error {
	if err := r.store.Destroy(ctx, objectTypeSession, r.profile); err != nil {
		return fmt.Errorf("%w: %w", ErrClearSession, err)
	}

	return nil
}
