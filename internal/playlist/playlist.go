// Package playlist implements the playlist file manager: a single,
// mutex-guarded text file of one label per line. Grounded on the
// shape of xg2g/internal/playlist/m3u.go (an io.Writer-based writer
// over a flat list of lines) combined with xg2g/internal/jobs's
// atomic-rename persistence, generalized to read-modify-write
// instead of generate-only.
package playlist

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

const maxAppendRandomCandidates = 64

// File is the playlist file, protected by a mutex so reads never
// observe a partial write.
type File struct {
	path string
	mu   sync.Mutex
}

// New builds a File bound to path. The file need not exist yet.
func New(path string) *File {
	return &File{path: path}
}

// Read returns the playlist's labels in file order.
func (f *File) Read() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *File) readLocked() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// Write atomically rewrites the playlist file with the given labels,
// one per line.
func (f *File) Write(labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(labels)
}

func (f *File) writeLocked(labels []string) error {
	pf, err := renameio.NewPendingFile(f.path)
	if err != nil {
		return err
	}
	defer func() { _ = pf.Cleanup() }()

	for _, label := range labels {
		if _, err := pf.WriteString(label + "\n"); err != nil {
			return err
		}
	}
	return pf.CloseAtomicallyReplace()
}

// AppendUnique appends label if not already present. Returns whether
// it was added.
func (f *File) AppendUnique(label string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines, err := f.readLocked()
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if l == label {
			return false, nil
		}
	}
	lines = append(lines, label)
	return true, f.writeLocked(lines)
}

// RemoveMatching removes every line equal to label. Returns whether
// anything was removed.
func (f *File) RemoveMatching(label string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines, err := f.readLocked()
	if err != nil {
		return false, err
	}
	out := lines[:0:0]
	removed := false
	for _, l := range lines {
		if l == label {
			removed = true
			continue
		}
		out = append(out, l)
	}
	if !removed {
		return false, nil
	}
	return true, f.writeLocked(out)
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// AppendRandom picks up to maxAppendRandomCandidates random songs
// from candidates, skipping any already present, and writes the
// first not-yet-present one it finds. Returns the label added, or
// ("", false) if the candidate pool is exhausted.
func (f *File) AppendRandom(candidates []string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(candidates) == 0 {
		return "", false, nil
	}
	lines, err := f.readLocked()
	if err != nil {
		return "", false, err
	}
	present := make(map[string]bool, len(lines))
	for _, l := range lines {
		present[l] = true
	}

	order := shuffledIndices(len(candidates))
	tries := len(order)
	if tries > maxAppendRandomCandidates {
		tries = maxAppendRandomCandidates
	}
	for _, idx := range order[:tries] {
		label := candidates[idx]
		if present[label] {
			continue
		}
		lines = append(lines, label)
		if err := f.writeLocked(lines); err != nil {
			return "", false, err
		}
		return label, true, nil
	}
	return "", false, nil
}

// EnsureAtLeast appends random songs from candidates until the
// playlist has at least n entries or the candidate pool is
// exhausted. Returns the number of entries appended.
func (f *File) EnsureAtLeast(n int, candidates []string) (int, error) {
	added := 0
	for {
		lines, err := f.Read()
		if err != nil {
			return added, err
		}
		if len(lines) >= n {
			return added, nil
		}
		_, ok, err := f.AppendRandom(candidates)
		if err != nil {
			return added, err
		}
		if !ok {
			return added, nil
		}
		added++
	}
}

func shuffledIndices(n int) []int {
	idxs := make([]int, n)
	for i := range idxs {
		idxs[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			break
		}
		idxs[i], idxs[j] = idxs[j], idxs[i]
	}
	return idxs
}
