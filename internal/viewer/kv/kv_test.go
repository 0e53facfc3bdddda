package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func openMem(t *testing.T, budget int64, c *clock) *DB {
	t.Helper()
	db, err := Open(Options{InMemory: true, Budget: budget, Now: c.now})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBucket_SetGetAndIndex(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBucket[rec](openMem(t, 0, c), "live", time.Minute)

	require.NoError(t, b.Set("ev2", rec{Name: "b"}))
	require.NoError(t, b.Set("ev1", rec{Name: "a"}))
	require.NoError(t, b.Set("ev1", rec{Name: "a", Score: 1}))

	got, ok, err := b.Get("ev1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Score)

	keys, err := b.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"ev1", "ev2"}, keys)

	require.NoError(t, b.Delete("ev2"))
	keys, _ = b.Keys()
	assert.Equal(t, []string{"ev1"}, keys)
	_, ok, _ = b.Get("ev2")
	assert.False(t, ok)
}

func TestBucket_EnvelopeExpiry(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBucket[rec](openMem(t, 0, c), "live", time.Hour)
	require.NoError(t, b.Set("ev1", rec{Name: "a"}))

	c.t = c.t.Add(2 * time.Hour)

	_, ok, err := b.Get("ev1")
	require.NoError(t, err)
	assert.False(t, ok)

	items, err := b.Scan()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Expired)
}

func TestBucket_FamiliesAreIsolated(t *testing.T) {
	c := &clock{t: time.Now()}
	db := openMem(t, 0, c)
	live := NewBucket[rec](db, "live", time.Minute)
	cat := NewBucket[rec](db, "catalog", 24*time.Hour)

	require.NoError(t, live.Set("x", rec{Name: "live"}))
	require.NoError(t, cat.Set("x", rec{Name: "catalog"}))

	a, _, _ := live.Get("x")
	b, _, _ := cat.Get("x")
	assert.Equal(t, "live", a.Name)
	assert.Equal(t, "catalog", b.Name)
}

func TestDB_QuotaExceeded(t *testing.T) {
	c := &clock{t: time.Now()}
	db := openMem(t, 300, c)
	b := NewBucket[rec](db, "live", time.Minute)

	require.NoError(t, b.Set("ev1", rec{Name: "a"}))
	used := db.Used()
	assert.Greater(t, used, int64(0))

	var err error
	for i := 0; i < 20 && err == nil; i++ {
		err = b.Set(string(rune('a'+i))+"-big", rec{Name: "0123456789012345678901234567890123456789"})
	}
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.LessOrEqual(t, db.Used(), int64(300))

	// apagar libera espaço
	keys, _ := b.Keys()
	require.NoError(t, b.Delete(keys...))
	assert.NoError(t, b.Set("ev1", rec{Name: "a"}))
}

func TestBucket_Evict(t *testing.T) {
	c := &clock{t: time.Now()}
	b := NewBucket[rec](openMem(t, 0, c), "live", time.Minute)
	for i, n := range []string{"a", "b", "c"} {
		require.NoError(t, b.Set(n, rec{Name: n, Score: i}))
	}

	n, err := b.Evict(func(it Item[rec]) bool { return it.Value.Score >= 1 })

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	keys, _ := b.Keys()
	assert.Equal(t, []string{"a"}, keys)
}

func TestOpen_VersionMismatchDropsEverything(t *testing.T) {
	dir := t.TempDir()
	c := &clock{t: time.Now()}

	db, err := Open(Options{Dir: dir, Version: 1, Now: c.now})
	require.NoError(t, err)
	require.NoError(t, NewBucket[rec](db, "live", time.Hour).Set("ev1", rec{Name: "a"}))
	require.NoError(t, db.Close())

	db, err = Open(Options{Dir: dir, Version: 1, Now: c.now})
	require.NoError(t, err)
	_, ok, err := NewBucket[rec](db, "live", time.Hour).Get("ev1")
	require.NoError(t, err)
	assert.True(t, ok, "mesma versão preserva")
	require.NoError(t, db.Close())

	db, err = Open(Options{Dir: dir, Version: 2, Now: c.now})
	require.NoError(t, err)
	defer db.Close()
	b := NewBucket[rec](db, "live", time.Hour)
	_, ok, err = b.Get("ev1")
	require.NoError(t, err)
	assert.False(t, ok)
	keys, _ := b.Keys()
	assert.Empty(t, keys)
	assert.Equal(t, int64(0), db.Used())
}
