package homekit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// portFile records the HAP port of every fixture so a paired accessory keeps its
// port across restarts, whatever order fixtures reconnect in.
const portFile = "ports.json"

type portMap struct {
	path  string
	base  int
	ports map[string]int
}

func loadPorts(dir string, base int) *portMap {
	m := &portMap{
		path:  filepath.Join(dir, portFile),
		base:  base,
		ports: make(map[string]int),
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", m.path).Msg("Failed to read HomeKit port assignments")
		}
		return m
	}
	if err := json.Unmarshal(data, &m.ports); err != nil {
		log.Warn().Err(err).Str("path", m.path).Msg("Ignoring corrupt HomeKit port assignments")
		m.ports = make(map[string]int)
	}
	return m
}

// assign returns the recorded port of id, or records the lowest free port from base.
func (m *portMap) assign(id string) (int, error) {
	if p, ok := m.ports[id]; ok {
		return p, nil
	}

	used := make(map[int]bool, len(m.ports))
	for _, p := range m.ports {
		used[p] = true
	}
	port := m.base
	for used[port] {
		port++
	}
	m.ports[id] = port
	return port, m.save()
}

func (m *portMap) save() error {
	data, err := json.MarshalIndent(m.ports, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(m.path), err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write port assignments: %w", err)
	}
	return os.Rename(tmp, m.path)
}
