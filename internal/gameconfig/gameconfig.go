// Package gameconfig atomically rewrites the game's config file to
// reflect the current room roster and per-player delays, per spec
// §4.11. Grounded on xg2g/internal/jobs/write_unix.go's
// NewPendingFile/CloseAtomicallyReplace pattern, applied to a
// key=value INI-ish format instead of M3U/XMLTV.
package gameconfig

import (
	"fmt"
	"strings"

	"github.com/dgruss/karaoked/internal/room"
	"github.com/google/renameio/v2"
)

// Roster is the input to Write: per-mic-room member lists and mean
// delays, one slot per mic room, mic1..mic6 in order.
type Roster struct {
	// Members[i] holds mic<i+1>'s member list (i in [0,5]).
	Members [6][]string
	// MeanDelayMS[i] holds mic<i+1>'s mean delay in ms (i in [0,5]).
	MeanDelayMS [6]int
}

// RosterFrom derives a Roster from a room snapshot and a delay
// lookup keyed by display name set.
func RosterFrom(snap room.Snapshot, meanDelay func(names []string) int) Roster {
	var r Roster
	for i, mic := range room.MicRooms {
		members := snap.Rooms[mic]
		r.Members[i] = members
		if meanDelay != nil {
			r.MeanDelayMS[i] = meanDelay(members)
		}
	}
	return r
}

// playerCount implements the H-based mapping from spec §4.11:
// H=0 -> 1; H in [1,4] -> H; H in {5,6} -> 6.
func playerCount(highestNonEmptyMic int) int {
	switch {
	case highestNonEmptyMic == 0:
		return 1
	case highestNonEmptyMic >= 1 && highestNonEmptyMic <= 4:
		return highestNonEmptyMic
	default:
		return 6
	}
}

func highestNonEmpty(r Roster) int {
	h := 0
	for i, members := range r.Members {
		if len(members) > 0 {
			h = i + 1
		}
	}
	return h
}

// Write atomically rewrites path with [Name], [PlayerDelay], and
// [Game] sections derived from r.
func Write(path string, r Roster) error {
	var b strings.Builder

	b.WriteString("[Name]\n")
	for i := 0; i < 6; i++ {
		name := strings.Join(r.Members[i], " & ")
		if name == "" {
			name = "None"
		}
		fmt.Fprintf(&b, "P%d=%s\n", i+1, name)
	}

	b.WriteString("[PlayerDelay]\n")
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, "P%d=%d\n", i+1, r.MeanDelayMS[i])
	}

	b.WriteString("[Game]\n")
	fmt.Fprintf(&b, "Players=%d\n", playerCount(highestNonEmpty(r)))

	pf, err := renameio.NewPendingFile(path)
	if err != nil {
		return err
	}
	defer func() { _ = pf.Cleanup() }()

	if _, err := pf.WriteString(b.String()); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}
