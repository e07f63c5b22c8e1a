package lsm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-kv/pkg/fsutil"
)

// ManifestName is the file inside the segment directory that records which
// segments are live and at which level.
const ManifestName = "MANIFEST"

const manifestVersion = 1

// Manifest is the persisted level layout. Levels[0] holds the newest data;
// within a level ids ascend and a higher id is more recent.
type Manifest struct {
	Version int        `yaml:"version"`
	NextID  uint64     `yaml:"next_id"`
	Levels  [][]uint64 `yaml:"levels"`
}

// LoadManifest reads <dir>/MANIFEST. A missing file yields an empty manifest.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if errors.Is(err, os.ErrNotExist) {
		return &Manifest{Version: manifestVersion, NextID: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if m.NextID == 0 {
		m.NextID = 1
	}
	return &m, nil
}

// Save atomically replaces <dir>/MANIFEST.
func (m *Manifest) Save(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, ManifestName), data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// IDs returns the set of every segment id listed.
func (m *Manifest) IDs() map[uint64]struct{} {
	ids := make(map[uint64]struct{})
	for _, level := range m.Levels {
		for _, id := range level {
			ids[id] = struct{}{}
		}
	}
	return ids
}

func manifestFor(levels [][]*Segment, nextID uint64) *Manifest {
	m := &Manifest{
		Version: manifestVersion,
		NextID:  nextID,
		Levels:  make([][]uint64, len(levels)),
	}
	for i, level := range levels {
		m.Levels[i] = make([]uint64, 0, len(level))
		for _, seg := range level {
			m.Levels[i] = append(m.Levels[i], seg.id)
		}
	}
	return m
}
