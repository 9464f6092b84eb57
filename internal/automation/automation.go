// Package automation implements the playlist automation state
// machine (spec §4.12): a log-driven sequence of countdowns and
// synthesized input events that advances the game through its menus
// unattended. Grounded on original_source/server.py's playlist
// automation globals and phase handling, restructured as a
// mutex-guarded type in the shape of xg2g's long-running-loop
// components (a single goroutine driven by a ticker, guarded state
// under a lock, countdown timers tracked by a token to discard stale
// firings).
package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgruss/karaoked/internal/logtail"
	"github.com/dgruss/karaoked/internal/metrics"
	"github.com/dgruss/karaoked/internal/playlist"
	"github.com/rs/zerolog"
)

// Phase is one state of the automation state machine.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhasePreOpenCountdown      Phase = "pre_open_countdown"
	PhasePlayerSelectCountdown Phase = "player_selection_countdown"
	PhaseAwaitingSongStart     Phase = "awaiting_song_start"
	PhaseSinging               Phase = "singing"
	PhaseScoresCountdown       Phase = "scores_countdown"
	PhaseHighscoreCountdown    Phase = "highscore_countdown"
	PhaseAwaitingSongList      Phase = "awaiting_song_list"
	PhaseNextSongCountdown     Phase = "next_song_countdown"
)

// Status is a JSON-serializable snapshot of the automation state.
type Status struct {
	Enabled           bool      `json:"enabled"`
	Phase             Phase     `json:"phase"`
	Status            string    `json:"status"`
	CountdownDeadline time.Time `json:"countdown_deadline,omitempty"`
	CountdownToken    int64     `json:"countdown_token"`
	CurrentIndex      int       `json:"current_index"`
	CurrentSong       string    `json:"current_song,omitempty"`
	NextSong          string    `json:"next_song,omitempty"`
	PendingSong       string    `json:"pending_song,omitempty"`
	AutoAdded         int       `json:"auto_added"`
}

const (
	awaitingSongStartTimeout = 120 * time.Second
	openSequenceDelay        = 50 * time.Millisecond
	overlayThreshold         = 2 * time.Second
	decoderEventsForScores   = 3
	decoderGapForScores      = 5 * time.Second
)

// Synthesizer is the input-synthesis surface automation drives the
// game through.
type Synthesizer interface {
	Key(name string) error
	Type(text string) error
}

// Overlay spawns/stops the fullscreen countdown display.
type Overlay interface {
	Show(ctx context.Context, seconds int) error
	Stop() error
}

// Machine drives the automation state machine.
type Machine struct {
	synth   Synthesizer
	overlay Overlay
	list    *playlist.File
	logger  zerolog.Logger

	songCandidates func() []string

	mu                    sync.Mutex
	enabled               bool
	phase                 Phase
	statusText            string
	countdownDeadline     time.Time
	countdownToken        int64
	phaseTimeout          time.Time
	currentIndex          int
	pendingIndex          int
	currentSong           string
	nextSong              string
	pendingSong           string
	decoderEventCount     int
	decoderLastTimestamp  time.Time
	decoderScoreTriggered bool
	autoAdded             int
	defaultCountdown      int
}

// New builds a Machine in the idle phase.
func New(synth Synthesizer, overlay Overlay, list *playlist.File, songCandidates func() []string, logger zerolog.Logger) *Machine {
	return &Machine{
		synth:            synth,
		overlay:          overlay,
		list:             list,
		songCandidates:   songCandidates,
		logger:           logger,
		phase:            PhaseIdle,
		statusText:       "idle",
		defaultCountdown: 5,
	}
}

// SetDefaultCountdown overrides the countdown length used when
// SetEnabled/Next are called with countdownSeconds <= 0. Call once at
// startup to apply the configured default (spec §6's
// KARAOKED_DEFAULT_COUNTDOWN_SECONDS); has no effect on a countdown
// already in flight. SetEnabled with a positive countdownSeconds also
// replaces this default.
func (m *Machine) SetDefaultCountdown(seconds int) {
	if seconds <= 0 {
		return
	}
	m.mu.Lock()
	m.defaultCountdown = seconds
	m.mu.Unlock()
}

// Status returns a snapshot of the current state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Enabled:           m.enabled,
		Phase:             m.phase,
		Status:            m.statusText,
		CountdownDeadline: m.countdownDeadline,
		CountdownToken:    m.countdownToken,
		CurrentIndex:      m.currentIndex,
		CurrentSong:       m.currentSong,
		NextSong:          m.nextSong,
		PendingSong:       m.pendingSong,
		AutoAdded:         m.autoAdded,
	}
}

func (m *Machine) transition(from, to Phase) {
	metrics.AutomationPhaseTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	m.phase = to
}

// SetEnabled toggles automation per spec §4.12's Enable sequence.
func (m *Machine) SetEnabled(ctx context.Context, enabled bool, countdownSeconds int) error {
	if !enabled {
		m.mu.Lock()
		m.enabled = false
		prev := m.phase
		m.transition(prev, PhaseIdle)
		m.statusText = "idle"
		m.countdownDeadline = time.Time{}
		m.mu.Unlock()
		if m.overlay != nil {
			_ = m.overlay.Stop()
		}
		return nil
	}

	if countdownSeconds <= 0 {
		m.mu.Lock()
		countdownSeconds = m.defaultCountdown
		m.mu.Unlock()
	}

	if m.list != nil && m.songCandidates != nil {
		if _, err := m.list.EnsureAtLeast(2, m.songCandidates()); err != nil {
			m.recordError(err)
			return err
		}
	}

	m.mu.Lock()
	m.enabled = true
	m.statusText = "running"
	m.currentIndex = 0
	m.decoderEventCount = 0
	m.decoderScoreTriggered = false
	m.defaultCountdown = countdownSeconds
	m.mu.Unlock()

	if err := m.preparePendingEntry(); err != nil {
		m.recordError(err)
		return err
	}

	if err := m.synthesizeOpeningSequence(ctx); err != nil {
		m.recordError(err)
		return err
	}

	m.mu.Lock()
	prev := m.phase
	m.transition(prev, PhaseNextSongCountdown)
	m.armCountdownLocked(countdownSeconds)
	m.mu.Unlock()

	return nil
}

// Next forces an immediate advance to next_song_countdown, re-arming
// the countdown with a fresh token regardless of the current phase.
// It powers the operator-facing /playlist/next route: an explicit
// "skip ahead" distinct from the automatic phase transitions driven by
// countdown expiry and log events. Returns the new countdown token.
func (m *Machine) Next(ctx context.Context, countdownSeconds int) (int64, error) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return 0, fmt.Errorf("automation: not enabled")
	}
	if countdownSeconds <= 0 {
		countdownSeconds = m.defaultCountdown
	}
	m.mu.Unlock()

	if err := m.preparePendingEntry(); err != nil {
		m.recordError(err)
		return 0, err
	}

	m.mu.Lock()
	prev := m.phase
	m.transition(prev, PhaseNextSongCountdown)
	m.armCountdownLocked(countdownSeconds)
	token := m.countdownToken
	m.mu.Unlock()
	return token, nil
}

// preparePendingEntry implements spec §4.12's pending-entry
// preparation: ensure an entry exists at current_index, remember it
// as pending, and guarantee a successor exists.
func (m *Machine) preparePendingEntry() error {
	if m.list == nil {
		return nil
	}
	lines, err := m.list.Read()
	if err != nil {
		return err
	}

	m.mu.Lock()
	idx := m.currentIndex
	m.mu.Unlock()

	if idx >= len(lines) {
		if m.songCandidates != nil {
			label, ok, err := m.list.AppendRandom(m.songCandidates())
			if err != nil {
				return err
			}
			if ok {
				lines = append(lines, label)
				m.mu.Lock()
				m.autoAdded++
				m.mu.Unlock()
			}
		}
	}
	if idx >= len(lines) {
		return nil
	}

	m.mu.Lock()
	m.pendingIndex = idx
	m.pendingSong = lines[idx]
	isLast := idx == len(lines)-1
	m.mu.Unlock()

	if isLast && m.songCandidates != nil {
		if _, ok, err := m.list.AppendRandom(m.songCandidates()); err != nil {
			return err
		} else if ok {
			m.mu.Lock()
			m.autoAdded++
			m.mu.Unlock()
		}
	}
	return nil
}

func (m *Machine) synthesizeOpeningSequence(ctx context.Context) error {
	steps := []struct {
		key  string
		text string
	}{
		{key: "Escape"}, {key: "Escape"}, {key: "Escape"}, {key: "Escape"}, {key: "Escape"},
		{key: "Escape"}, {key: "Escape"}, {key: "Escape"}, {key: "Escape"}, {key: "Escape"},
		{key: "Return"}, {text: "p"}, {key: "Return"}, {text: "p"},
		{key: "Return"}, {key: "Down"}, {key: "Down"}, {key: "Return"},
	}
	for _, s := range steps {
		var err error
		if s.text != "" {
			err = m.synth.Type(s.text)
		} else {
			err = m.synth.Key(s.key)
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(openSequenceDelay):
		}
	}
	return nil
}

func (m *Machine) armCountdownLocked(seconds int) {
	m.countdownToken++
	m.countdownDeadline = time.Now().Add(time.Duration(seconds) * time.Second)
	if time.Duration(seconds)*time.Second >= overlayThreshold && m.overlay != nil {
		token := m.countdownToken
		go func() {
			_ = m.overlay.Show(context.Background(), seconds)
			m.mu.Lock()
			stillCurrent := m.countdownToken == token
			m.mu.Unlock()
			if stillCurrent {
				_ = m.overlay.Stop()
			}
		}()
	}
}

func (m *Machine) recordError(err error) {
	metrics.AutomationErrorsTotal.Inc()
	m.mu.Lock()
	m.statusText = "error"
	prev := m.phase
	m.transition(prev, PhaseIdle)
	m.enabled = false
	m.mu.Unlock()
	m.logger.Warn().Err(err).Msg("playlist automation entered error state")
}

// Tick advances countdowns/timeouts; call it periodically (e.g. every
// 250ms) from the automation loop.
func (m *Machine) Tick(ctx context.Context) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	now := time.Now()

	if !m.phaseTimeout.IsZero() && now.After(m.phaseTimeout) {
		m.statusText = "error"
		prev := m.phase
		m.transition(prev, PhaseIdle)
		m.enabled = false
		m.phaseTimeout = time.Time{}
		m.mu.Unlock()
		metrics.AutomationErrorsTotal.Inc()
		if m.overlay != nil {
			_ = m.overlay.Stop()
		}
		return
	}

	if m.countdownDeadline.IsZero() || now.Before(m.countdownDeadline) {
		m.mu.Unlock()
		return
	}

	token := m.countdownToken
	phase := m.phase
	m.countdownDeadline = time.Time{}
	m.mu.Unlock()

	m.fireCountdown(ctx, token, phase)
}

func (m *Machine) fireCountdown(ctx context.Context, token int64, phase Phase) {
	m.mu.Lock()
	if m.countdownToken != token {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	switch phase {
	case PhaseNextSongCountdown:
		if err := m.synth.Key("Return"); err != nil {
			m.recordError(err)
			return
		}
		m.mu.Lock()
		m.transition(phase, PhasePlayerSelectCountdown)
		m.armCountdownLocked(m.defaultCountdown)
		m.mu.Unlock()

	case PhasePlayerSelectCountdown:
		if err := m.synth.Key("Return"); err != nil {
			m.recordError(err)
			return
		}
		m.mu.Lock()
		m.transition(phase, PhaseAwaitingSongStart)
		m.phaseTimeout = time.Now().Add(awaitingSongStartTimeout)
		m.mu.Unlock()

	case PhaseScoresCountdown:
		if err := m.preparePendingEntry(); err != nil {
			m.recordError(err)
			return
		}
		if err := m.synth.Key("Return"); err != nil {
			m.recordError(err)
			return
		}
		m.mu.Lock()
		m.transition(phase, PhaseHighscoreCountdown)
		m.armCountdownLocked(m.defaultCountdown)
		m.mu.Unlock()

	case PhaseHighscoreCountdown:
		if err := m.synth.Key("Return"); err != nil {
			m.recordError(err)
			return
		}
		if err := m.synth.Key("Down"); err != nil {
			m.recordError(err)
			return
		}
		m.mu.Lock()
		m.decoderEventCount = 0
		m.decoderScoreTriggered = false
		m.transition(phase, PhaseNextSongCountdown)
		m.armCountdownLocked(m.defaultCountdown)
		m.mu.Unlock()
	}
}

// HandleLogEvent feeds a recognized game-log event into the phase
// machine, per spec §4.12's awaiting_song_start/singing transitions.
func (m *Machine) HandleLogEvent(ev logtail.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}

	switch m.phase {
	case PhaseAwaitingSongStart:
		if ev.Kind == logtail.EventDecoder || ev.Kind == logtail.EventSongStart {
			m.phaseTimeout = time.Time{}
			m.currentIndex = m.pendingIndex + 1
			m.decoderEventCount = 0
			m.decoderLastTimestamp = ev.At
			m.decoderScoreTriggered = false
			m.transition(PhaseAwaitingSongStart, PhaseSinging)
		}

	case PhaseSinging:
		if m.decoderScoreTriggered {
			return
		}
		triggered := false
		switch ev.Kind {
		case logtail.EventDecoder:
			m.decoderEventCount++
			if !m.decoderLastTimestamp.IsZero() && ev.At.Sub(m.decoderLastTimestamp) >= decoderGapForScores {
				triggered = true
			}
			m.decoderLastTimestamp = ev.At
			if m.decoderEventCount >= decoderEventsForScores {
				triggered = true
			}
		case logtail.EventVideoPlayback:
			triggered = true
		}
		if triggered {
			m.decoderScoreTriggered = true
			m.transition(PhaseSinging, PhaseScoresCountdown)
			m.armCountdownLocked(m.defaultCountdown)
		}
	}
}
