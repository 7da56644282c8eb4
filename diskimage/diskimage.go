// Package diskimage implements the offline disk-image builder: it walks a
// host directory, creates a blank filesystem sized by the caller's inode and
// data-block counts, writes each discovered file in, and persists the result.
package diskimage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/werdl/rustnix-fs/blockio"
	"github.com/werdl/rustnix-fs/layout"
	"github.com/werdl/rustnix-fs/physfs"
)

// Options configures a build run.
type Options struct {
	// SourceDir is the host directory to walk.
	SourceDir string
	// Ignore lists host-relative subdirectory paths to skip entirely, e.g.
	// ["target", ".git"].
	Ignore []string
	// OutputImageName is skipped if found inside SourceDir, so the image
	// being built doesn't try to embed itself.
	OutputImageName string
	// NumInodes sizes the inode table of the blank filesystem.
	NumInodes uint64
	// NumDataBlocks sizes the data-block region of the blank filesystem.
	NumDataBlocks uint64
	// Owner and Perms are applied to every created file.
	Owner uint64
	Perms [3]byte
	// Now supplies the creation/modification/access timestamp.
	Now uint64
}

// Summary reports what a build run did.
type Summary struct {
	FilesWritten int
	TotalBytes   uint64
	ImageBytes   uint64
}

// String renders sizes in a human-readable B/KB/MB/GB/TB style.
func (s Summary) String() string {
	return fmt.Sprintf(
		"wrote %d files (%s), image size %s",
		s.FilesWritten,
		humanReadable(s.TotalBytes),
		humanReadable(s.ImageBytes),
	)
}

func humanReadable(size uint64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(size)
	unit := 0
	for value >= 1024.0 && unit < len(units)-1 {
		value /= 1024.0
		unit++
	}
	return fmt.Sprintf("%.2f %s", value, units[unit])
}

func ignoreSet(ignore []string) map[string]bool {
	set := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		set[name] = true
	}
	return set
}

// discoveredFile pairs a filesystem-facing path (always "/"-prefixed) with
// the host file it was read from.
type discoveredFile struct {
	fsPath string
	data   []byte
}

func listFiles(root, dir string, ignore map[string]bool, outputImageName string) ([]discoveredFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []discoveredFile
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		rel, err := filepath.Rel(root, full)
		if err != nil {
			return nil, err
		}

		if entry.IsDir() {
			if ignore[rel] {
				continue
			}
			sub, err := listFiles(root, full, ignore, outputImageName)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
			continue
		}

		if entry.Name() == outputImageName {
			continue
		}

		fsPath := filepath.ToSlash(rel)
		if fsPath[0] != '/' {
			fsPath = "/" + fsPath
		}

		data, err := os.ReadFile(full)
		if err != nil {
			return nil, err
		}
		files = append(files, discoveredFile{fsPath: fsPath, data: data})
	}
	return files, nil
}

// Build walks opts.SourceDir, creates a blank filesystem sized per opts,
// creates and writes every discovered file into it, and persists it to dev.
// Failures on individual files are collected rather than aborting the whole
// run; the returned error, if any, is a *multierror.Error naming every
// failed file.
func Build(dev blockio.Device, opts Options) (Summary, error) {
	files, err := listFiles(opts.SourceDir, opts.SourceDir, ignoreSet(opts.Ignore), opts.OutputImageName)
	if err != nil {
		return Summary{}, err
	}

	fs := physfs.NewBlank(opts.NumInodes, opts.NumDataBlocks)

	var summary Summary
	var errs *multierror.Error
	for _, f := range files {
		if err := fs.CreateFile(f.fsPath, opts.Perms, opts.Owner, opts.Now); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("create %s: %w", f.fsPath, err))
			continue
		}
		if err := fs.WriteFile(f.fsPath, f.data, nil, nil, opts.Now); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("write %s: %w", f.fsPath, err))
			continue
		}
		summary.FilesWritten++
		summary.TotalBytes += uint64(len(f.data))
	}

	if err := fs.ToDevice(dev); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("persist image: %w", err))
	}

	summary.ImageBytes = (1 + opts.NumInodes + opts.NumDataBlocks) * layout.BlockSize

	return summary, errs.ErrorOrNil()
}
