package queue

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const archiveName = "archive.zip"

// ArchiveContents recursively zips a task's working directory into
// archive.zip using stored (uncompressed) entries, then deletes everything
// else the directory holds.
type ArchiveContents struct {
	Stats Stats // optional; nil disables the daily completed-file counter
}

func (a *ArchiveContents) Run(reg *Registry, task *Task) error {
	task.Status = "Archiving contents"
	dir := TaskDir(reg, task)
	archivePath := filepath.Join(dir, archiveName)

	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	zw := zip.NewWriter(f)

	if err := archiveDirectory(task, dir, "", zw); err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("writing archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("closing archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing archive file: %w", err)
	}

	task.Status = "Cleaning up..."
	if err := cleanupDirectory(dir); err != nil {
		return fmt.Errorf("cleaning up working directory: %w", err)
	}

	task.Status = "Task is ready for download"
	task.Completed = true
	task.Result = archivePath
	if a.Stats != nil {
		_ = a.Stats.IncrementDailyFiles()
	}
	return nil
}

func (a *ArchiveContents) Describe() (map[string]any, map[string]string) {
	return map[string]any{}, nil
}

// archiveDirectory walks path recursively, writing every file into zw with
// a POSIX-style archive path, skipping archive.zip itself.
func archiveDirectory(task *Task, path, arcPath string, zw *zip.Writer) error {
	task.Status = fmt.Sprintf("Archiving contents (%s)", displayArcPath(arcPath))

	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == archiveName {
			continue
		}
		full := filepath.Join(path, e.Name())
		if e.IsDir() {
			if err := archiveDirectory(task, full, arcPath+"/"+e.Name(), zw); err != nil {
				return err
			}
			continue
		}

		name := filepath.ToSlash(filepath.Join(arcPath, e.Name()))
		name = strings.TrimPrefix(name, "/")
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   name,
			Method: zip.Store,
		})
		if err != nil {
			return err
		}
		content, err := os.ReadFile(full)
		if err != nil {
			return err
		}
		if _, err := w.Write(content); err != nil {
			return err
		}
	}
	return nil
}

func displayArcPath(arcPath string) string {
	if arcPath == "" {
		return "/"
	}
	return arcPath
}

// cleanupDirectory removes every entry under path except archive.zip.
func cleanupDirectory(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == archiveName {
			continue
		}
		full := filepath.Join(path, e.Name())
		if e.IsDir() {
			if err := os.RemoveAll(full); err != nil {
				return err
			}
		} else if err := os.Remove(full); err != nil {
			return err
		}
	}
	return nil
}
