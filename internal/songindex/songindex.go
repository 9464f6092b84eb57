// Package songindex scans the game directory for karaoke notation
// files and builds the in-memory/on-disk song index described in
// spec §4.9. Grounded on xg2g/internal/jobs's filesystem-walk +
// atomic-JSON-write shape (fetch.go's directory scan,
// write_unix.go's renameio persistence), applied to a different file
// layout (`*/songs/*/*.txt` rather than EPG XML).
package songindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// Entry is one indexed song. Fields mirror spec §3's SongEntry.
type Entry struct {
	ID            int    `json:"id"`
	TextPath      string `json:"text_path"`
	AudioPath     string `json:"audio_path"`
	Display       string `json:"display"`
	InPlaylist    bool   `json:"in_playlist"`
	PlaylistLabel string `json:"playlist_label,omitempty"`
}

// Index owns the scanned song set: a dense slice plus lookup maps by
// id and by canonical absolute audio path.
type Index struct {
	gameDir        string
	audioExtension string
	indexPath      string

	mu      sync.RWMutex
	entries []Entry
	byID    map[int]*Entry
	byAudio map[string]*Entry
}

// New builds an empty Index rooted at gameDir.
func New(gameDir, audioExtension, indexPath string) *Index {
	return &Index{
		gameDir:        gameDir,
		audioExtension: strings.TrimPrefix(audioExtension, "."),
		indexPath:      indexPath,
		byID:           make(map[int]*Entry),
		byAudio:        make(map[string]*Entry),
	}
}

func displayFromFilename(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return strings.ReplaceAll(base, "_", " ")
}

func audioPathFor(textPath, extension string) string {
	return strings.TrimSuffix(textPath, filepath.Ext(textPath)) + "." + extension
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return filepath.Clean(abs)
}

// Scan walks gameDir for files matching */songs/*/*.txt, rebuilding
// the index from scratch. Existing in_playlist flags are preserved
// across a rescan by audio path, since song ids may be reassigned
// when files are added or removed.
func (idx *Index) Scan() error {
	var found []string
	root := filepath.Join(idx.gameDir, "songs")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".txt") {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(found)

	idx.mu.Lock()
	previousInPlaylist := make(map[string]bool, len(idx.byAudio))
	for audio, e := range idx.byAudio {
		previousInPlaylist[audio] = e.InPlaylist
	}

	entries := make([]Entry, 0, len(found))
	byID := make(map[int]*Entry, len(found))
	byAudio := make(map[string]*Entry, len(found))
	for i, textPath := range found {
		audioPath := audioPathFor(textPath, idx.audioExtension)
		e := Entry{
			ID:         i + 1,
			TextPath:   textPath,
			AudioPath:  audioPath,
			Display:    displayFromFilename(textPath),
			InPlaylist: previousInPlaylist[canonical(audioPath)],
		}
		entries = append(entries, e)
	}
	for i := range entries {
		byID[entries[i].ID] = &entries[i]
		byAudio[canonical(entries[i].AudioPath)] = &entries[i]
	}
	idx.entries = entries
	idx.byID = byID
	idx.byAudio = byAudio
	idx.mu.Unlock()

	return nil
}

// Load reads a previously persisted index from disk.
func (idx *Index) Load() error {
	data, err := os.ReadFile(idx.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = entries
	idx.byID = make(map[int]*Entry, len(entries))
	idx.byAudio = make(map[string]*Entry, len(entries))
	for i := range idx.entries {
		idx.byID[idx.entries[i].ID] = &idx.entries[i]
		idx.byAudio[canonical(idx.entries[i].AudioPath)] = &idx.entries[i]
	}
	return nil
}

// Save persists the index atomically.
func (idx *Index) Save() error {
	idx.mu.RLock()
	entries := append([]Entry(nil), idx.entries...)
	idx.mu.RUnlock()

	pf, err := renameio.NewPendingFile(idx.indexPath)
	if err != nil {
		return err
	}
	defer func() { _ = pf.Cleanup() }()

	enc := json.NewEncoder(pf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}

// ByID returns a copy of the entry with the given id.
func (idx *Index) ByID(id int) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byID[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ByAudioPath looks up an entry by (possibly relative) audio path.
func (idx *Index) ByAudioPath(path string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byAudio[canonical(path)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// All returns a copy of every entry, in id order.
func (idx *Index) All() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]Entry(nil), idx.entries...)
}

// Search returns entries whose display label contains q (case
// insensitive), paginated.
func (idx *Index) Search(q string, page, perPage int) []Entry {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	q = strings.ToLower(q)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matches []Entry
	for _, e := range idx.entries {
		if q == "" || strings.Contains(strings.ToLower(e.Display), q) {
			matches = append(matches, e)
		}
	}
	start := (page - 1) * perPage
	if start >= len(matches) {
		return nil
	}
	end := start + perPage
	if end > len(matches) {
		end = len(matches)
	}
	return matches[start:end]
}

// SetInPlaylist flips the cached in_playlist flag for id.
func (idx *Index) SetInPlaylist(id int, inPlaylist bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if e, ok := idx.byID[id]; ok {
		e.InPlaylist = inPlaylist
	}
}

// PlaylistLabel derives (and caches) the "<Artist> : <Title>" label
// for entry id, per spec §4.9.
func (idx *Index) PlaylistLabel(id int) (string, error) {
	idx.mu.Lock()
	e, ok := idx.byID[id]
	if !ok {
		idx.mu.Unlock()
		return "", fmt.Errorf("songindex: unknown id %d", id)
	}
	if e.PlaylistLabel != "" {
		label := e.PlaylistLabel
		idx.mu.Unlock()
		return label, nil
	}
	textPath, display := e.TextPath, e.Display
	idx.mu.Unlock()

	label, err := deriveLabel(textPath, display)
	if err != nil {
		return "", err
	}

	idx.mu.Lock()
	if e, ok := idx.byID[id]; ok {
		e.PlaylistLabel = label
	}
	idx.mu.Unlock()
	return label, nil
}

func deriveLabel(textPath, displayFallback string) (string, error) {
	data, err := os.ReadFile(textPath)
	if err != nil {
		return normalizeLabel(displayFallback), nil
	}

	var artist, title string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case artist == "" && strings.HasPrefix(upper, "#ARTIST:"):
			artist = strings.TrimSpace(line[len("#ARTIST:"):])
		case title == "" && strings.HasPrefix(upper, "#TITLE:"):
			title = strings.TrimSpace(line[len("#TITLE:"):])
		}
		if artist != "" && title != "" {
			break
		}
	}

	switch {
	case artist != "" && title != "":
		return fmt.Sprintf("%s : %s", artist, title), nil
	case artist != "":
		return normalizeLabel(artist), nil
	case title != "":
		return normalizeLabel(title), nil
	default:
		return normalizeLabel(displayFallback), nil
	}
}

// normalizeLabel collapses an already "a : b" or "a - b" string into
// the canonical "<a> : <b>" form, per spec §4.9 step 3.
func normalizeLabel(label string) string {
	if strings.Contains(label, " : ") {
		return label
	}
	if strings.Contains(label, " - ") {
		return strings.Replace(label, " - ", " : ", 1)
	}
	return label
}
