// Package archive wraps the compression/archival step of the agent's
// upload pipeline behind a narrow interface. The tar container format uses
// the standard library's archive/tar; the gzip stream is written with
// klauspost/compress/gzip, a drop-in, faster reimplementation of
// compress/gzip.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Archiver compresses a directory tree into a single archive file.
type Archiver interface {
	// Archive writes a gzip-compressed tar of srcDir's contents to destFile.
	Archive(ctx context.Context, srcDir, destFile string) error
}

// TarGzArchiver is the default Archiver implementation.
type TarGzArchiver struct{}

// NewTarGzArchiver returns the default Archiver.
func NewTarGzArchiver() *TarGzArchiver { return &TarGzArchiver{} }

// Archive walks srcDir and writes a tar.gz of its contents to destFile.
// Paths inside the archive are relative to srcDir, not absolute.
func (a *TarGzArchiver) Archive(ctx context.Context, srcDir, destFile string) error {
	out, err := os.Create(destFile)
	if err != nil {
		return fmt.Errorf("archive: failed to create %s: %w", destFile, err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	walkErr := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	})

	if closeErr := tw.Close(); closeErr != nil && walkErr == nil {
		walkErr = closeErr
	}
	if closeErr := gz.Close(); closeErr != nil && walkErr == nil {
		walkErr = closeErr
	}

	if walkErr != nil {
		return fmt.Errorf("archive: failed to compress %s: %w", srcDir, walkErr)
	}
	return nil
}
