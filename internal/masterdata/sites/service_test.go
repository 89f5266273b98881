package sites

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	sites  map[int64]Site
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sites: make(map[int64]Site)}
}

func (r *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Site, int, error) {
	out := make([]Site, 0, len(r.sites))
	for _, s := range r.sites {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Site, error) {
	s, ok := r.sites[id]
	if !ok {
		return Site{}, ErrNotFound
	}
	return s, nil
}

func (r *memoryRepo) Create(ctx context.Context, site Site) (Site, error) {
	r.nextID++
	site.ID = r.nextID
	r.sites[site.ID] = site
	return site, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, site Site) error {
	if _, ok := r.sites[id]; !ok {
		return ErrNotFound
	}
	site.ID = id
	r.sites[id] = site
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.sites[id]; !ok {
		return ErrNotFound
	}
	delete(r.sites, id)
	return nil
}

func TestCreateRequiresCodeAndName(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, Site{Name: "North Yard"})
	require.Error(t, err)

	_, err = svc.Create(ctx, Site{Code: "NY"})
	require.Error(t, err)

	created, err := svc.Create(ctx, Site{Code: "NY", Name: "North Yard"})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
}

func TestGetRejectsInvalidID(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Get(context.Background(), 0)
	require.Error(t, err)

	_, err = svc.Get(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAndDelete(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, Site{Code: "ED", Name: "East Depot"})
	require.NoError(t, err)

	require.Error(t, svc.Update(ctx, created.ID, Site{Code: "ED"}))
	require.NoError(t, svc.Update(ctx, created.ID, Site{Code: "ED", Name: "East Depot Annex"}))

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "East Depot Annex", got.Name)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
