package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hothouse-labs/hothouse/pkg/protocol"
)

// identityFile persists a device's issued uuid between runs. Before the
// gateway ever issues one, Load returns the NO_UUID sentinel.
type identityFile struct {
	path string
}

func newIdentityFile(dir, name string) identityFile {
	return identityFile{path: filepath.Join(dir, name)}
}

// Load reads the persisted uuid, or the sentinel when none exists yet.
func (f identityFile) Load() string {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return protocol.NoUUID
	}
	uuid := strings.TrimSpace(string(data))
	if uuid == "" {
		return protocol.NoUUID
	}
	return uuid
}

// Save writes the issued uuid, replacing any previous one in place.
func (f identityFile) Save(uuid string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(f.path, []byte(uuid), 0o600)
}
