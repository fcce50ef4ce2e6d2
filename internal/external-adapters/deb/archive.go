// Package deb reads and writes Debian binary package archives (.deb).
//
// A .deb is an ar container holding, in order, "debian-binary" ("2.0\n"),
// a control tarball and a data tarball.
package deb

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/services"
)

const (
	arMagic       = "!<arch>\n"
	formatVersion = "2.0\n"
	memberBinary  = "debian-binary"
	memberControl = "control.tar.gz"
	memberData    = "data.tar.gz"
)

// ErrInvalid is wrapped by every inspection failure
var ErrInvalid = errors.New("invalid deb archive")

// Write assembles a .deb at destPath from a control file and a staged root tree.
// Every file under stageDir is installed relative to "/". The data tarball is
// spooled in workDir, which must exist.
func Write(destPath string, control []byte, stageDir, workDir string) error {
	var controlTar bytes.Buffer
	if err := writeControlTar(&controlTar, control); err != nil {
		return err
	}

	dataTar, err := os.CreateTemp(workDir, ".data-*.tar.gz")
	if err != nil {
		return fmt.Errorf("failed to create data tarball: %w", err)
	}
	defer func() {
		_ = dataTar.Close()
		_ = os.Remove(dataTar.Name())
	}()
	if err := writeDataTar(dataTar, stageDir); err != nil {
		return err
	}
	dataSize, err := dataTar.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to size data tarball: %w", err)
	}
	if _, err := dataTar.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind data tarball: %w", err)
	}

	//nolint:gosec // G304: destPath is constructed for package output
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create package file: %w", err)
	}
	//nolint:errcheck // Closed explicitly below on success
	defer out.Close()

	now := time.Now()
	w := ar.NewWriter(out)
	if err := w.WriteGlobalHeader(); err != nil {
		return fmt.Errorf("failed to write ar header: %w", err)
	}
	members := []struct {
		name string
		size int64
		body io.Reader
	}{
		{memberBinary, int64(len(formatVersion)), strings.NewReader(formatVersion)},
		{memberControl, int64(controlTar.Len()), &controlTar},
		{memberData, dataSize, dataTar},
	}
	for _, m := range members {
		hdr := &ar.Header{Name: m.name, ModTime: now, Mode: 0644, Size: m.size}
		if err := w.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write %s header: %w", m.name, err)
		}
		mw := &memberWriter{w: w}
		if _, err := io.Copy(mw, m.body); err != nil {
			return fmt.Errorf("failed to write %s: %w", m.name, err)
		}
		if err := mw.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", m.name, err)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close package file: %w", err)
	}
	return nil
}

// memberWriter feeds an ar member in even-sized writes. ar.Writer pads after
// every odd-sized write, so an odd trailing byte is held back until Close.
type memberWriter struct {
	w       *ar.Writer
	pending []byte
}

func (m *memberWriter) Write(b []byte) (int, error) {
	n := len(b)
	if len(m.pending) > 0 {
		b = append(m.pending, b...)
		m.pending = nil
	}
	if len(b)%2 == 1 {
		m.pending = []byte{b[len(b)-1]}
		b = b[:len(b)-1]
	}
	if len(b) > 0 {
		if _, err := m.w.Write(b); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (m *memberWriter) Close() error {
	if len(m.pending) == 0 {
		return nil
	}
	_, err := m.w.Write(m.pending)
	m.pending = nil
	return err
}

func writeControlTar(w io.Writer, control []byte) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{
		Name:     "./control",
		Mode:     0644,
		Size:     int64(len(control)),
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write control header: %w", err)
	}
	if _, err := tw.Write(control); err != nil {
		return fmt.Errorf("failed to write control file: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close control tarball: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress control tarball: %w", err)
	}
	return nil
}

func writeDataTar(w io.Writer, stageDir string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", path, err)
			}
		}

		header, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return fmt.Errorf("failed to create tar header: %w", err)
		}

		relPath, err := filepath.Rel(stageDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		if relPath == "." {
			header.Name = "./"
		} else {
			header.Name = "./" + filepath.ToSlash(relPath)
			if info.IsDir() {
				header.Name += "/"
			}
		}
		header.Uid, header.Gid = 0, 0
		header.Uname, header.Gname = "root", "root"

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		//nolint:gosec // G304: File path from filepath.Walk for packaging
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		//nolint:errcheck // Defer close on read-only file
		defer file.Close()

		if _, err := io.Copy(tw, file); err != nil {
			return fmt.Errorf("failed to write file to tar: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close data tarball: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress data tarball: %w", err)
	}
	return nil
}

// Inspect fully reads the archive at path and returns its control fields.
// Any structural problem, truncation or payload that is not a .deb at all
// (for example a JSON error document) yields an error wrapping ErrInvalid.
func Inspect(path string) ([]entities.ControlField, error) {
	//nolint:gosec // G304: path is a package file in the artifact directory
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open package: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(f, magic); err != nil || string(magic) != arMagic {
		return nil, fmt.Errorf("%w: not an ar archive", ErrInvalid)
	}

	// ar.NewReader skips the global header itself
	r := ar.NewReader(io.MultiReader(bytes.NewReader(magic), f))
	var (
		sawBinary bool
		control   []entities.ControlField
		sawData   bool
	)
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		name := strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/")

		switch {
		case name == memberBinary:
			data, err := io.ReadAll(io.LimitReader(r, 64))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
			}
			if !strings.HasPrefix(string(data), "2.") {
				return nil, fmt.Errorf("%w: unsupported format version %q", ErrInvalid, strings.TrimSpace(string(data)))
			}
			sawBinary = true
		case strings.HasPrefix(name, "control.tar"):
			if !sawBinary {
				return nil, fmt.Errorf("%w: %s before %s", ErrInvalid, name, memberBinary)
			}
			control, err = readControl(name, r)
			if err != nil {
				return nil, err
			}
		case strings.HasPrefix(name, "data.tar"):
			if control == nil {
				return nil, fmt.Errorf("%w: %s before control", ErrInvalid, name)
			}
			if err := drainTar(name, r); err != nil {
				return nil, err
			}
			sawData = true
		}
	}

	if !sawBinary || control == nil || !sawData {
		return nil, fmt.Errorf("%w: missing members", ErrInvalid)
	}
	return control, nil
}

// decompress wraps r according to the member name's compression suffix
func decompress(name string, r io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
		return gz, func() { _ = gz.Close() }, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(name, ".xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
		return xr, func() {}, nil
	case strings.HasSuffix(name, ".tar"):
		return r, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported member compression %s", ErrInvalid, name)
	}
}

func readControl(name string, r io.Reader) ([]entities.ControlField, error) {
	dr, closeFn, err := decompress(name, r)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	tr := tar.NewReader(dr)
	var fields []entities.ControlField
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
		if strings.TrimPrefix(hdr.Name, "./") != "control" {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
			}
			continue
		}

		paragraphs, err := services.ParseParagraphs(io.LimitReader(tr, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: control file: %v", ErrInvalid, err)
		}
		if len(paragraphs) != 1 {
			return nil, fmt.Errorf("%w: control file has %d paragraphs", ErrInvalid, len(paragraphs))
		}
		fields = paragraphs[0]
	}

	if fields == nil {
		return nil, fmt.Errorf("%w: %s has no control file", ErrInvalid, name)
	}
	if _, ok := services.FieldValue(fields, "Package"); !ok {
		return nil, fmt.Errorf("%w: control file has no Package field", ErrInvalid)
	}
	return fields, nil
}

func drainTar(name string, r io.Reader) error {
	dr, closeFn, err := decompress(name, r)
	if err != nil {
		return err
	}
	defer closeFn()

	tr := tar.NewReader(dr)
	for {
		_, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
	}
}
