package room

import (
	"encoding/json"
	"os"

	"github.com/google/renameio/v2"
)

// FileCapacityStore persists the capacity map as JSON {room: int},
// written atomically via renameio, exactly as
// github.com/ManuGH/xg2g/internal/jobs writes its M3U/XMLTV output:
// NewPendingFile then CloseAtomicallyReplace.
type FileCapacityStore struct {
	Path string
}

// Load reads the capacity file, returning an empty map if it does not
// yet exist.
func (s FileCapacityStore) Load() (map[string]int, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int{}, nil
		}
		return nil, err
	}
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Save atomically rewrites the capacity file.
func (s FileCapacityStore) Save(capacity map[string]int) error {
	pf, err := renameio.NewPendingFile(s.Path)
	if err != nil {
		return err
	}
	defer func() { _ = pf.Cleanup() }()

	enc := json.NewEncoder(pf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(capacity); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}
