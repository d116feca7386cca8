// Package archive packages a job's output directory into a flat zip and
// removes the intermediate files afterwards.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	partSuffix = ".part"
	// lockSuffix marks job lock files, which sit beside nested job directories
	lockSuffix = ".lock"
)

// Pack zips the regular files directly inside dir into dir/name.
// Files ending in any of excludeExtensions, the archive itself, in-progress
// .part files and .lock files are skipped. Members are stored under their base names in
// lexical order. The archive is written to a .part file and renamed on success.
func Pack(dir string, name string, excludeExtensions []string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid archive name %q", name)
	}

	members, err := listMembers(dir, name, excludeExtensions)
	if err != nil {
		return "", err
	}

	archivePath := filepath.Join(dir, name)
	tempPath := archivePath + partSuffix

	out, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tempPath)
		}
	}()

	zw := zip.NewWriter(out)
	for _, member := range members {
		if err := addFile(zw, filepath.Join(dir, member), member); err != nil {
			_ = zw.Close()
			_ = out.Close()
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close archive: %w", err)
	}

	// Atomic rename: move .part file to final filename
	if err := os.Rename(tempPath, archivePath); err != nil {
		return "", fmt.Errorf("failed to rename archive: %w", err)
	}
	success = true

	return archivePath, nil
}

func listMembers(dir, archiveName string, excludeExtensions []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var members []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if name == archiveName || strings.HasSuffix(name, partSuffix) || strings.HasSuffix(name, lockSuffix) || hasAnySuffix(name, excludeExtensions) {
			continue
		}
		members = append(members, name)
	}
	sort.Strings(members)
	return members, nil
}

func addFile(zw *zip.Writer, path, member string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", member, err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", member, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", member, err)
	}
	header.Name = member
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", member, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to write %s: %w", member, err)
	}
	return nil
}

// Purge deletes the regular files directly inside dir ending in any of extensions.
// Every failure is returned; none stops the remaining deletions.
func Purge(dir string, extensions []string) []error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []error{fmt.Errorf("failed to read output directory: %w", err)}
	}

	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !hasAnySuffix(entry.Name(), extensions) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", entry.Name(), err))
		}
	}
	return errs
}

// Members lists the entry names of a zip archive
func Members(archivePath string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = r.Close() }()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}

func hasAnySuffix(name string, suffixes []string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if s != "" && strings.HasSuffix(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
