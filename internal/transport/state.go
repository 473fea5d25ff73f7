package transport

import (
	"encoding/json"
	"os"
	"time"
)

// State is the persisted last-known-good transport preference. It only
// shortens the first delivery after a restart; losing it costs nothing.
type State struct {
	Transport string    `json:"transport"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveState writes the state file atomically via rename.
func SaveState(path string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadState reads a previously saved state. A missing or unreadable file
// returns nil state and nil error: the caller falls back to defaults.
func LoadState(path string) (*State, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, nil
	}
	return &state, nil
}
