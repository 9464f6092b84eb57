package songindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSong(t *testing.T, gameDir, artist, title string) {
	t.Helper()
	dir := filepath.Join(gameDir, "songs", artist)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "#ARTIST:" + artist + "\n#TITLE:" + title + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, title+".txt"), []byte(content), 0o644))
}

func TestScanFindsSongsAndAssignsSequentialIDs(t *testing.T) {
	gameDir := t.TempDir()
	writeSong(t, gameDir, "Abba", "Waterloo")
	writeSong(t, gameDir, "Queen", "Bohemian Rhapsody")

	idx := New(gameDir, "mp3", filepath.Join(gameDir, "index.json"))
	require.NoError(t, idx.Scan())

	entries := idx.All()
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].ID)
	assert.Equal(t, 2, entries[1].ID)
}

func TestScanPreservesInPlaylistAcrossRescan(t *testing.T) {
	gameDir := t.TempDir()
	writeSong(t, gameDir, "Abba", "Waterloo")

	idx := New(gameDir, "mp3", filepath.Join(gameDir, "index.json"))
	require.NoError(t, idx.Scan())
	entries := idx.All()
	require.Len(t, entries, 1)
	idx.SetInPlaylist(entries[0].ID, true)

	writeSong(t, gameDir, "Queen", "Bohemian Rhapsody")
	require.NoError(t, idx.Scan())

	e, ok := idx.ByAudioPath(entries[0].AudioPath)
	require.True(t, ok)
	assert.True(t, e.InPlaylist)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	gameDir := t.TempDir()
	writeSong(t, gameDir, "Abba", "Waterloo")

	indexPath := filepath.Join(gameDir, "index.json")
	idx := New(gameDir, "mp3", indexPath)
	require.NoError(t, idx.Scan())
	require.NoError(t, idx.Save())

	idx2 := New(gameDir, "mp3", indexPath)
	require.NoError(t, idx2.Load())
	if diff := cmp.Diff(idx.All(), idx2.All()); diff != "" {
		t.Fatalf("reloaded index differs from saved one (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	gameDir := t.TempDir()
	idx := New(gameDir, "mp3", filepath.Join(gameDir, "missing.json"))
	require.NoError(t, idx.Load())
	assert.Empty(t, idx.All())
}

func TestPlaylistLabelPrefersArtistAndTitleTags(t *testing.T) {
	gameDir := t.TempDir()
	writeSong(t, gameDir, "Abba", "Waterloo")

	idx := New(gameDir, "mp3", filepath.Join(gameDir, "index.json"))
	require.NoError(t, idx.Scan())
	entries := idx.All()

	label, err := idx.PlaylistLabel(entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Abba : Waterloo", label)
}

func TestPlaylistLabelFallsBackToDisplayName(t *testing.T) {
	gameDir := t.TempDir()
	dir := filepath.Join(gameDir, "songs", "Misc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Some - Song.txt"), []byte("no tags here"), 0o644))

	idx := New(gameDir, "mp3", filepath.Join(gameDir, "index.json"))
	require.NoError(t, idx.Scan())
	entries := idx.All()
	require.Len(t, entries, 1)

	label, err := idx.PlaylistLabel(entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Some : Song", label)
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "Abba : Waterloo", normalizeLabel("Abba : Waterloo"))
	assert.Equal(t, "Abba : Waterloo", normalizeLabel("Abba - Waterloo"))
	assert.Equal(t, "Waterloo", normalizeLabel("Waterloo"))
}

func TestSearchFiltersAndPaginates(t *testing.T) {
	gameDir := t.TempDir()
	writeSong(t, gameDir, "Abba", "Waterloo")
	writeSong(t, gameDir, "Abba", "Dancing Queen")
	writeSong(t, gameDir, "Queen", "Bohemian Rhapsody")

	idx := New(gameDir, "mp3", filepath.Join(gameDir, "index.json"))
	require.NoError(t, idx.Scan())

	all := idx.Search("", 1, 20)
	assert.Len(t, all, 3)

	filtered := idx.Search("dancing", 1, 20)
	assert.Len(t, filtered, 1)
	assert.Contains(t, filtered[0].Display, "Dancing Queen")

	page1 := idx.Search("", 1, 2)
	page2 := idx.Search("", 2, 2)
	assert.Len(t, page1, 2)
	assert.Len(t, page2, 1)
}

func TestByIDMissingReturnsFalse(t *testing.T) {
	idx := New(t.TempDir(), "mp3", "index.json")
	_, ok := idx.ByID(999)
	assert.False(t, ok)
}
