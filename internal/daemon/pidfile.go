// Package daemon tracks a running API server through a small state file.
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// State describes a running server process.
type State struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"startedAt"`
}

// PIDFile manages the state file for a server process.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process as serving on addr.
func (p *PIDFile) Write(addr string) error {
	return p.WriteState(State{PID: os.Getpid(), Addr: addr, StartedAt: time.Now().UTC()})
}

// WriteState writes st to the file.
func (p *PIDFile) WriteState(st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(p.Path, append(data, '\n'), 0o644)
}

// Read reads the recorded state.
func (p *PIDFile) Read() (*State, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("invalid PID file content: %w", err)
	}
	if st.PID <= 0 {
		return nil, fmt.Errorf("invalid PID file content: pid %d", st.PID)
	}
	return &st, nil
}

// Remove deletes the file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
