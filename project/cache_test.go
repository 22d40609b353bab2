package project

import (
	"context"
	"errors"
	"testing"
	"time"

	mrd "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// countingSource records how many reads reach the underlying store.
type countingSource struct {
	projects map[string]*Project
	gets     int
}

func (s *countingSource) Get(_ context.Context, id string) (*Project, error) {
	s.gets++
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func newMiniCache(t *testing.T, src Source) (*Cache, *redis.Client) {
	t.Helper()
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(src, rdb, time.Minute, nil), rdb
}

func TestCache_ReadThrough(t *testing.T) {
	src := &countingSource{projects: map[string]*Project{
		"p1": {ID: "p1", Name: "Images", PayRate: "12.50"},
	}}
	c, _ := newMiniCache(t, src)
	ctx := context.Background()

	p, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "12.50", p.PayRate)
	require.Equal(t, 1, src.gets)

	// second read served from cache
	p, err = c.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Images", p.Name)
	require.Equal(t, 1, src.gets)
}

func TestCache_MissPropagatesNotFound(t *testing.T) {
	src := &countingSource{projects: map[string]*Project{}}
	c, _ := newMiniCache(t, src)

	_, err := c.Get(context.Background(), "ghost")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestCache_Invalidate(t *testing.T) {
	src := &countingSource{projects: map[string]*Project{
		"p1": {ID: "p1", Name: "v1", PayRate: "10"},
	}}
	c, _ := newMiniCache(t, src)
	ctx := context.Background()

	_, err := c.Get(ctx, "p1")
	require.NoError(t, err)

	src.projects["p1"] = &Project{ID: "p1", Name: "v2", PayRate: "11"}
	c.Invalidate(ctx, "p1")

	p, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "v2", p.Name)
	require.Equal(t, 2, src.gets)
}

func TestCache_CorruptEntryFallsThrough(t *testing.T) {
	src := &countingSource{projects: map[string]*Project{
		"p1": {ID: "p1", Name: "Images", PayRate: "9"},
	}}
	c, rdb := newMiniCache(t, src)
	ctx := context.Background()

	require.NoError(t, rdb.Set(ctx, cacheKey("p1"), "{not json", time.Minute).Err())

	p, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "9", p.PayRate)
	require.Equal(t, 1, src.gets)
}
