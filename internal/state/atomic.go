package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	boterrors "github.com/duchoang-qt/pa-trading-bot/internal/errors"
)

// SaveJSON writes v to path atomically: marshal, write a temp file in
// the same directory, then rename over the target. A crash mid-write
// leaves either the old file or the new one, never a torn file. The
// previous snapshot is kept at path.bak as a last resort for the
// operator.
func SaveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return boterrors.Wrap(err, boterrors.CategoryPersistence, "state", "marshal")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return boterrors.Wrap(err, boterrors.CategoryPersistence, "state", "mkdir")
	}

	// Best effort; a missing backup never blocks the save.
	if prev, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", prev, 0644)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return boterrors.Wrap(err, boterrors.CategoryPersistence, "state", "write")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return boterrors.Wrap(err, boterrors.CategoryPersistence, "state", "rename")
	}
	return nil
}

// LoadJSON reads path into v. A missing file is not an error; found is
// false and v is left untouched so the caller keeps its defaults.
// A file that exists but does not parse is quarantined: renamed aside
// with a .corrupt.<timestamp> suffix so the next save starts clean and
// the broken payload survives for inspection. The caller gets found =
// false plus the quarantine path in the returned error's message.
func LoadJSON(path string, v interface{}) (found bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, boterrors.Wrap(err, boterrors.CategoryPersistence, "state", "read")
	}

	if err := json.Unmarshal(data, v); err != nil {
		quarantined := Quarantine(path)
		return false, boterrors.New(boterrors.CategoryPersistence, "state", "parse",
			fmt.Sprintf("corrupt state file %s quarantined to %s: %v", path, quarantined, err))
	}
	return true, nil
}

// Quarantine renames a corrupt file aside and returns the new path.
// If the rename itself fails the original path is returned; the next
// atomic save will overwrite it.
func Quarantine(path string) string {
	quarantined := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
	if err := os.Rename(path, quarantined); err != nil {
		return path
	}
	return quarantined
}
