package heartbeatd

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DaemonState is the on-disk record of total completed cycles (spec.md
// §4.5: "total_cycles persists across restarts so maturity keeps growing").
type DaemonState struct {
	TotalCycles int `json:"total_cycles"`
}

const stateFilename = "daemon_state.json"

func loadState(dir string) (DaemonState, error) {
	path := filepath.Join(dir, stateFilename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DaemonState{}, nil
	}
	if err != nil {
		return DaemonState{}, err
	}
	var st DaemonState
	if err := json.Unmarshal(data, &st); err != nil {
		return DaemonState{}, nil
	}
	return st, nil
}

func saveState(dir string, st DaemonState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, stateFilename+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, stateFilename))
}
