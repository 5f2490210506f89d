// Package archive serializes a save directory into a single zip artifact
// and extracts it back. Writes go to a temp file next to the destination
// and are renamed into place only on full success.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/savesentry/savesentry/internal/domain"
)

// PreviewAsset is the optional per-save preview image copied alongside the
// archive when present in the source.
const PreviewAsset = "thumb.png"

type ZipCodec struct{}

func NewZip() *ZipCodec {
	return &ZipCodec{}
}

// Write archives sourceDir into a zip at destPath and returns its size.
// With compress false, entries use the Store method, so the artifact is an
// uncompressed container. No partial artifact survives a failure.
func (z *ZipCodec) Write(sourceDir, destPath string, compress bool) (int64, error) {
	srcBytes, err := dirSize(sourceDir)
	if err != nil {
		return 0, fmt.Errorf("failed to scan source: %w", err)
	}
	if err := checkSpace(filepath.Dir(destPath), srcBytes); err != nil {
		return 0, err
	}

	tmpPath := filepath.Join(filepath.Dir(destPath), ".tmp-"+filepath.Base(destPath))
	size, err := z.writeTo(sourceDir, tmpPath, destPath, compress)
	if err != nil {
		_ = os.Remove(tmpPath)
		// A failed write on a nearly full volume reports as a plain I/O
		// error; re-check so the caller sees the real cause.
		if spaceErr := checkSpace(filepath.Dir(destPath), srcBytes); spaceErr != nil {
			return 0, spaceErr
		}
		return 0, err
	}

	z.copyPreview(sourceDir, destPath)
	return size, nil
}

func (z *ZipCodec) writeTo(sourceDir, tmpPath, destPath string, compress bool) (int64, error) {
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	method := uint16(zip.Store)
	if compress {
		method = zip.Deflate
	}

	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = method

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if walkErr != nil {
		_ = zw.Close()
		_ = f.Close()
		return 0, fmt.Errorf("failed to archive %s: %w", sourceDir, walkErr)
	}

	if err := zw.Close(); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close archive: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("failed to finalize archive: %w", err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat archive: %w", err)
	}
	return info.Size(), nil
}

// copyPreview copies the save's preview image next to the archive. The
// source not having one is normal.
func (z *ZipCodec) copyPreview(sourceDir, destPath string) {
	src, err := os.Open(filepath.Join(sourceDir, PreviewAsset))
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(PreviewPath(destPath))
	if err != nil {
		return
	}
	defer dst.Close()
	_, _ = io.Copy(dst, src)
}

// PreviewPath returns where the preview image for an archive lives.
func PreviewPath(archivePath string) string {
	return strings.TrimSuffix(archivePath, filepath.Ext(archivePath)) + ".thumb.png"
}

// IsCompressed reports whether any entry in the archive uses compression.
// Only the central directory is read.
func IsCompressed(archivePath string) bool {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return false
	}
	defer r.Close()
	for _, f := range r.File {
		if f.Method != zip.Store {
			return true
		}
	}
	return false
}

// Extract restores the archive into destDir, overwriting existing files.
// The archive is fully read back first, so a corrupt artifact is rejected
// before any file in destDir is touched.
func (z *ZipCodec) Extract(sourcePath, destDir string) error {
	r, err := zip.OpenReader(sourcePath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCorruptArchive, err)
	}
	defer r.Close()

	if err := verify(&r.Reader); err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	for _, f := range r.File {
		if err := extractEntry(f, destDir); err != nil {
			return err
		}
	}
	return nil
}

// verify reads every entry to the end, forcing CRC validation.
func verify(r *zip.Reader) error {
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrCorruptArchive, err)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrCorruptArchive, f.Name, err)
		}
	}
	return nil
}

func extractEntry(f *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("%w: entry escapes destination: %s", domain.ErrCorruptArchive, f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCorruptArchive, err)
	}
	defer rc.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0600)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, rc); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.Name, err)
	}
	return nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// checkSpace is a best-effort guard: when the platform reports free space,
// refuse writes that cannot fit the uncompressed source.
func checkSpace(dir string, need int64) error {
	free, err := freeBytes(dir)
	if err != nil {
		return nil
	}
	if free < uint64(need) {
		return fmt.Errorf("%w: need %d bytes, %d available", domain.ErrInsufficientSpace, need, free)
	}
	return nil
}
