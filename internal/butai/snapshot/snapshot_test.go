package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/butai/internal/butai/memory"
	"github.com/bdobrica/butai/internal/butai/snapshot"
)

func sample() snapshot.Snapshot {
	created := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	s := snapshot.Empty()
	s.Sessions["@alice:example.com"] = snapshot.SessionRecord{
		ID:        "5b0c3c1e-1111-4a4a-9999-000000000001",
		Character: "陌生人",
		Scenario:  "chapter2",
		Room:      "!dm:example.com",
		CreatedAt: created,
		UpdatedAt: created.Add(time.Hour),
	}
	s.Memory["@alice:example.com"] = map[string][]memory.Entry{
		"chapter2": {
			memory.NewEntry("陌生人说：“海达在哪”你说：“在剧院”",
				memory.NewTagSet("海达", "剧院"), memory.NewTagSet("人物", "地点")),
			memory.NewEntry("陌生人说：“好的”", nil, nil),
		},
	}
	return s
}

func assertSameSnapshot(t *testing.T, want, got snapshot.Snapshot) {
	t.Helper()
	require.Len(t, got.Sessions, len(want.Sessions))
	for who, w := range want.Sessions {
		g, ok := got.Sessions[who]
		require.True(t, ok, "session %s missing", who)
		assert.Equal(t, w.Character, g.Character)
		assert.Equal(t, w.Scenario, g.Scenario)
		assert.Equal(t, w.ID, g.ID)
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt))
	}
	for who, byScenario := range want.Memory {
		for sc, entries := range byScenario {
			gotEntries := got.Memory[who][sc]
			require.Len(t, gotEntries, len(entries))
			for i := range entries {
				assert.Equal(t, entries[i].Text, gotEntries[i].Text)
				assert.True(t, entries[i].Tags.Equal(gotEntries[i].Tags), "tags differ at %d", i)
				assert.True(t, entries[i].Topics.Equal(gotEntries[i].Topics), "topics differ at %d", i)
			}
		}
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	store, err := snapshot.NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sample()))

	_, err = os.Stat(filepath.Join(dir, "users.json"))
	require.NoError(t, err)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assertSameSnapshot(t, sample(), got)
}

func TestFileStore_LoadWithoutFilesIsEmpty(t *testing.T) {
	store, err := snapshot.NewFileStore(t.TempDir())
	require.NoError(t, err)

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Sessions)
	assert.Empty(t, got.Memory)
	assert.NotNil(t, got.Sessions)
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte("{"), 0o644))
	store, err := snapshot.NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.Error(t, err)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := snapshot.NewRedisStore("redis://"+mr.Addr(), "test:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Sessions)

	require.NoError(t, store.Save(ctx, sample()))
	assert.True(t, mr.Exists("test:users"))
	assert.True(t, mr.Exists("test:user_memory"))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assertSameSnapshot(t, sample(), got)
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := snapshot.NewRedisStore("not a url", "")
	assert.Error(t, err)
}
