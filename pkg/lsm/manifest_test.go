package lsm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestManifest_Missing(t *testing.T) {
	m, err := LoadManifest(t.TempDir())
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m.NextID != 1 || len(m.Levels) != 0 {
		t.Errorf("unexpected empty manifest: %+v", m)
	}
}

func TestManifest_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{Version: manifestVersion, NextID: 12, Levels: [][]uint64{{9, 11}, {}, {4}}}

	if err := m.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestName+".tmp")); !os.IsNotExist(err) {
		t.Error("temp manifest left behind")
	}

	loaded, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if loaded.NextID != 12 || len(loaded.Levels) != 3 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if len(loaded.Levels[0]) != 2 || loaded.Levels[0][1] != 11 || loaded.Levels[2][0] != 4 {
		t.Errorf("levels = %v", loaded.Levels)
	}

	ids := loaded.IDs()
	for _, id := range []uint64{4, 9, 11} {
		if _, ok := ids[id]; !ok {
			t.Errorf("IDs missing %d", id)
		}
	}
}

func TestManifest_RejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ManifestName), []byte("levels: [[1, 2"), 0644)
	if _, err := LoadManifest(dir); err == nil {
		t.Error("expected parse error")
	}

	os.WriteFile(filepath.Join(dir, ManifestName), []byte("version: 99\nnext_id: 1\n"), 0644)
	if _, err := LoadManifest(dir); err == nil {
		t.Error("expected version error")
	}
}
