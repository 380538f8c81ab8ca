package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	indexFile    = "index.json"
	indexVersion = 1
	tempPrefix   = ".tmp-"
)

type index struct {
	Version int      `json:"version"`
	Entries []*Entry `json:"entries"`
}

func (c *Cache) readIndex() ([]*Entry, error) {
	data, err := os.ReadFile(filepath.Join(c.opts.Dir, indexFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", indexFile, err)
	}
	if idx.Version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d", idx.Version)
	}
	return idx.Entries, nil
}

// writeIndex atomically replaces index.json with the current entries
func (c *Cache) writeIndex() error {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	idx := index{Version: indexVersion}
	for _, e := range c.Entries() {
		e := e
		idx.Entries = append(idx.Entries, &e)
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	return writeFileAtomic(filepath.Join(c.opts.Dir, indexFile), data)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place
func writeFileAtomic(target string, data []byte) (retErr error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}
