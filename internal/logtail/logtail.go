// Package logtail watches the game's log file for appearance,
// rotation, and truncation, emitting recognized lines (decoder
// events, song-start markers, video-playback markers) on a channel.
// Grounded on xg2g/internal/proxy/watcher.go's fsnotify-based
// WaitForFile: watch the parent directory and treat Create/Write
// events on the target name as the signal to re-read, with a 2s poll
// alongside as a backstop.
package logtail

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// EventKind classifies a recognized log line per spec §6.
type EventKind int

const (
	// EventDecoder is a "Using decoder FFmpeg_Decoder for ..." line.
	EventDecoder EventKind = iota
	// EventSongStart is a "STATUS: End [OnShow]" line.
	EventSongStart
	// EventVideoPlayback is a "Playing video"/"Video:"/"Start video" line.
	EventVideoPlayback
)

// Event is one recognized log line.
type Event struct {
	Kind EventKind
	Line string
	At   time.Time
}

var (
	decoderRe   = regexp.MustCompile(`(?i)Using decoder FFmpeg_Decoder for`)
	songStartRe = regexp.MustCompile(`(?i)STATUS:\s*End\s*\[OnShow\]`)
	videoRe     = regexp.MustCompile(`(?i)(Playing video|Video:|Start video)`)
)

func classify(line string) (EventKind, bool) {
	switch {
	case decoderRe.MatchString(line):
		return EventDecoder, true
	case songStartRe.MatchString(line):
		return EventSongStart, true
	case videoRe.MatchString(line):
		return EventVideoPlayback, true
	default:
		return 0, false
	}
}

// Tailer follows a single log file path, surviving rotation (file
// replaced by a new inode) and truncation (file shrinks in place).
type Tailer struct {
	path   string
	logger zerolog.Logger

	events chan Event
	offset int64
	ident  os.FileInfo
}

// New builds a Tailer for path. Call Run to start watching; Events
// yields recognized lines as they appear.
func New(path string, logger zerolog.Logger) *Tailer {
	return &Tailer{path: path, logger: logger, events: make(chan Event, 64)}
}

// Events returns the channel of recognized log lines.
func (t *Tailer) Events() <-chan Event { return t.events }

// Run watches the log file's parent directory and tails new content
// until ctx is cancelled. It never returns an error for a merely
// absent file — it waits for fsnotify to report its creation.
func (t *Tailer) Run(ctx context.Context) error {
	defer close(t.events)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(t.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	t.readNew()

	targetName := filepath.Base(t.path)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Periodic poll covers truncate-in-place, which some
			// platforms report as a bare Write with no size change
			// signal fsnotify surfaces distinctly.
			t.checkTruncation()
			t.readNew()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != targetName {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				t.readNew()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn().Err(werr).Msg("logtail watcher error")
		}
	}
}

func (t *Tailer) checkTruncation() {
	info, err := os.Stat(t.path)
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		t.offset = 0
	}
}

func (t *Tailer) readNew() {
	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if t.ident != nil && !os.SameFile(t.ident, info) {
		t.offset = 0
	}
	t.ident = info
	if info.Size() < t.offset {
		t.offset = 0
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lastOffset int64 = t.offset
	for scanner.Scan() {
		line := scanner.Text()
		lastOffset += int64(len(line)) + 1
		if kind, ok := classify(line); ok {
			select {
			case t.events <- Event{Kind: kind, Line: line, At: time.Now()}:
			default:
				t.logger.Warn().Msg("logtail event channel full, dropping line")
			}
		}
	}
	t.offset = lastOffset
}
