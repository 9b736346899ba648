package armory

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
)

// BuildArchive packs the contents of srcDir into an in-memory tar.gz.
// Entry names are relative to srcDir.
func BuildArchive(srcDir string) ([]byte, error) {
	info, err := os.Stat(srcDir)
	if err != nil || !info.IsDir() {
		return nil, errors.NewValidationError("archive source is not a directory", err).WithContext("path", srcDir)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if fi.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if fi.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
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
	if walkErr != nil {
		return nil, errors.NewIOError("failed to build archive", walkErr).WithContext("path", srcDir)
	}

	if err := tw.Close(); err != nil {
		return nil, errors.NewIOError("failed to finalize tar stream", err)
	}
	if err := gz.Close(); err != nil {
		return nil, errors.NewIOError("failed to finalize gzip stream", err)
	}

	return buf.Bytes(), nil
}

// ExtractArchive unpacks tar.gz bytes into destDir. Any entry whose path
// would escape destDir is rejected with a path traversal error before
// anything from that entry touches the filesystem.
func ExtractArchive(archive []byte, destDir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return errors.NewFormatError("archive is not valid gzip", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.NewFormatError("archive is not a valid tar stream", err)
		}

		rel, err := sanitizeEntryName(hdr.Name)
		if err != nil {
			return err
		}
		if rel == "" {
			continue
		}
		dest := filepath.Join(destDir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, hdr.FileInfo().Mode().Perm()); err != nil {
				return errors.NewIOError("failed to create directory from archive", err).WithContext("entry", rel)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return errors.NewIOError("failed to create parent directory", err).WithContext("entry", rel)
			}
			if err := writeEntryFile(dest, hdr.FileInfo().Mode().Perm(), tr); err != nil {
				return errors.NewIOError("failed to write file from archive", err).WithContext("entry", rel)
			}

		case tar.TypeSymlink:
			if err := checkSymlinkTarget(rel, hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return errors.NewIOError("failed to create parent directory", err).WithContext("entry", rel)
			}
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return errors.NewIOError("failed to create symlink from archive", err).WithContext("entry", rel)
			}

		default:
			// Device nodes, fifos and hard links are not meaningful
			// inside a unit tree; skip them.
		}
	}
}

func writeEntryFile(dest string, mode fs.FileMode, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// sanitizeEntryName normalizes a tar entry name and rejects anything that
// escapes the extraction root. The empty string marks entries to skip.
func sanitizeEntryName(name string) (string, error) {
	cleaned := strings.TrimPrefix(filepath.ToSlash(name), "./")
	cleaned = strings.TrimSuffix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", nil
	}
	rel := filepath.FromSlash(cleaned)
	if filepath.IsAbs(rel) || !filepath.IsLocal(rel) {
		return "", errors.NewPathTraversalError("archive entry escapes unit root", nil).WithContext("entry", name)
	}
	return rel, nil
}

func checkSymlinkTarget(entry, target string) error {
	if target == "" || filepath.IsAbs(target) {
		return errors.NewPathTraversalError("symlink target escapes unit root", nil).
			WithContext("entry", entry).
			WithContext("target", target)
	}
	resolved := filepath.Join(filepath.Dir(entry), filepath.FromSlash(target))
	if !filepath.IsLocal(resolved) {
		return errors.NewPathTraversalError("symlink target escapes unit root", nil).
			WithContext("entry", entry).
			WithContext("target", target)
	}
	return nil
}
