// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio replaces files atomically and keeps timestamped backups of
// their previous versions.
package atomicio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	backupTimeFormat = "20060102T150405.000000000Z"
	defaultBackups   = 10
)

// Writer writes files atomically.
type Writer struct {
	// Backups is the number of previous versions kept next to the file.
	// Zero disables backups.
	Backups int
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

var defaultWriter = &Writer{Backups: defaultBackups}

// WriteFile replaces name with data using a Writer that keeps ten backups.
func WriteFile(name string, data []byte, perm fs.FileMode) error {
	return defaultWriter.WriteFile(name, data, perm)
}

// WriteFile replaces name with data. Readers see either the old or the new
// contents, never a partial write.
func (w *Writer) WriteFile(name string, data []byte, perm fs.FileMode) (err error) {
	// The temporary file must live on the same filesystem for os.Rename.
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if w.Backups > 0 {
		if err := w.backup(name); err != nil {
			return err
		}
	}
	if err := os.Rename(f.Name(), name); err != nil {
		return err
	}
	if w.Backups > 0 {
		return w.prune(name)
	}
	return nil
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Writer) backup(name string) error {
	old, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	fi, err := os.Stat(name)
	if err != nil {
		return err
	}
	backupName := name + "." + w.now().UTC().Format(backupTimeFormat) + ".bak"
	return os.WriteFile(backupName, old, fi.Mode().Perm())
}

// Backups returns the backup files of name, oldest first.
func Backups(name string) ([]string, error) {
	backups, err := filepath.Glob(name + ".*.bak")
	if err != nil {
		return nil, err
	}
	slices.Sort(backups)
	return backups, nil
}

func (w *Writer) prune(name string) error {
	backups, err := Backups(name)
	if err != nil {
		return err
	}
	over := len(backups) - w.Backups
	for i := 0; i < over; i++ {
		if err := os.Remove(backups[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
