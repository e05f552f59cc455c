package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const appDirPerm os.FileMode = 0o750

// EnsureDir creates the directory if it does not exist.
func EnsureDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.MkdirAll(dirPath, appDirPerm); err != nil { //nolint:gosec // app-owned data dir
		return fmt.Errorf("ensure dir: %w", err)
	}
	return nil
}

// WriteJSONAtomic marshals the value and atomically writes it to filename via
// a temporary file in the same directory followed by a rename.
func WriteJSONAtomic(filename string, v any) error {
	if filename == "" {
		return errors.New("empty filename")
	}
	return writeAtomic(filename, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(true)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	})
}

// CopyAtomic writes data provided by the reader to the destination file
// atomically. Used for archive payloads so a partially written zip is never
// visible at the final path.
func CopyAtomic(filename string, reader io.Reader) error {
	return writeAtomic(filename, func(w io.Writer) error {
		if _, err := io.Copy(w, reader); err != nil {
			return fmt.Errorf("copy to temp: %w", err)
		}
		return nil
	})
}

func writeAtomic(filename string, fill func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tempFile.Name()

	if err := fill(tempFile); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return err
	}

	// ensure data hits disk
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	// remove existing file to avoid permission issues on Windows
	if _, err := os.Stat(filename); err == nil {
		_ = os.Remove(filename)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}
