package tarcodec

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures one extraction (spec §4.1 "Reader contract").
type Options struct {
	PreserveOwnership bool
	UID               *int
	GID               *int
	Log               *logrus.Entry

	// ForceSystemTar routes .tar/.tar.gz archives through the host tar
	// binary too, instead of only the internal decoder (BQ2_USE_SYSTEM_TAR_*).
	ForceSystemTar bool
}

func (o Options) logger() *logrus.Entry {
	if o.Log != nil {
		return o.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

type pendingDir struct {
	path  string
	mtime time.Time
}

// Extract decodes an uncompressed ustar stream into dest.
func Extract(r io.Reader, dest string, opts Options) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var pendingLongName string
	var pendingDirs []pendingDir

	for {
		block := make([]byte, blockSize)
		if _, err := io.ReadFull(br, block); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		h, ok := decodeHeader(block)
		if !ok {
			break
		}

		name := h.fullName()
		if pendingLongName != "" {
			name = pendingLongName
			pendingLongName = ""
		}

		switch h.typeflag {
		case typePAX:
			data, err := readPayload(br, h.size, name)
			if err != nil {
				return err
			}
			if v, ok := parsePAXLongName(data); ok {
				pendingLongName = v
			}
			continue
		case typeGNULong:
			data, err := readPayload(br, h.size, name)
			if err != nil {
				return err
			}
			pendingLongName = strings.TrimRight(string(data), "\x00")
			continue
		}

		rel, safe := safeRelativePath(name)
		if !safe {
			opts.logger().Warnf("tarcodec: skipping unsafe entry %q", name)
			if h.typeflag == typeRegular || h.typeflag == typeRegularAlt {
				if _, err := io.CopyN(io.Discard, br, paddedSize(h.size)); err != nil {
					return err
				}
			}
			continue
		}
		target := filepath.Join(dest, rel)

		if err := reconcileExisting(target, h.typeflag); err != nil {
			return err
		}

		switch h.typeflag {
		case typeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			pendingDirs = append(pendingDirs, pendingDir{path: target, mtime: time.Unix(h.mtime, 0)})

		case typeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(h.linkname, target); err != nil {
				return err
			}

		case typeHardLink:
			linkTarget := filepath.Join(dest, h.linkname)
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Link(linkTarget, target); err != nil {
				return err
			}

		default: // regular file
			if err := extractRegular(br, target, h, opts); err != nil {
				return err
			}
			os.Chtimes(target, time.Unix(h.mtime, 0), time.Unix(h.mtime, 0))
		}

		applyOwnership(target, h, opts)
	}

	// Directory mtimes are applied only after all children have been
	// written (spec §4.1: "directory mtimes are applied after all children
	// have been written"), in reverse order so nested dirs land last-first
	// without a second mtime-disturbing write.
	for i := len(pendingDirs) - 1; i >= 0; i-- {
		d := pendingDirs[i]
		os.Chtimes(d.path, d.mtime, d.mtime)
	}
	return nil
}

func readPayload(r io.Reader, size int64, name string) ([]byte, error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return nil, &ExtractionError{Entry: name, Want: size, Got: int64(n)}
	}
	pad := paddedSize(size) - size
	if pad > 0 {
		if _, err := io.CopyN(io.Discard, r, pad); err != nil {
			return nil, &ExtractionError{Entry: name, Want: size, Got: int64(n)}
		}
	}
	return buf, nil
}

// parsePAXLongName extracts the "path" record from a PAX extended header
// payload.
func parsePAXLongName(data []byte) (string, bool) {
	s := string(data)
	for len(s) > 0 {
		spaceIdx := strings.IndexByte(s, ' ')
		if spaceIdx < 0 {
			return "", false
		}
		recLen := 0
		for _, c := range s[:spaceIdx] {
			if c < '0' || c > '9' {
				return "", false
			}
			recLen = recLen*10 + int(c-'0')
		}
		if recLen <= 0 || recLen > len(s) {
			return "", false
		}
		record := s[:recLen]
		rest := s[recLen:]
		body := strings.TrimSuffix(record[spaceIdx+1:], "\n")
		if k, v, ok := strings.Cut(body, "="); ok && k == "path" {
			return v, true
		}
		s = rest
	}
	return "", false
}

func extractRegular(r io.Reader, target string, h header, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	mode := os.FileMode(h.mode)
	if h.mode == 0 {
		mode = 0755
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	written, err := io.CopyN(f, r, h.size)
	if err != nil && err != io.EOF {
		return err
	}
	if written < h.size {
		return &ExtractionError{Entry: h.fullName(), Want: h.size, Got: written}
	}
	pad := paddedSize(h.size) - h.size
	if pad > 0 {
		if _, err := io.CopyN(io.Discard, r, pad); err != nil {
			return err
		}
	}
	return nil
}

// reconcileExisting removes a conflicting destination entry before write
// (spec §4.1: "a directory replacing a file removes the file; a file
// replacing a directory removes the directory subtree").
func reconcileExisting(target string, typeflag byte) error {
	info, err := os.Lstat(target)
	if err != nil {
		return nil
	}
	if typeflag == typeDir {
		if info.IsDir() {
			return nil
		}
		return os.Remove(target)
	}
	if info.IsDir() {
		return os.RemoveAll(target)
	}
	return nil
}

func applyOwnership(target string, h header, opts Options) {
	if !opts.PreserveOwnership {
		return
	}
	uid, gid := h.uid, h.gid
	if opts.UID != nil {
		uid = *opts.UID
	}
	if opts.GID != nil {
		gid = *opts.GID
	}
	if err := os.Lchown(target, uid, gid); err != nil {
		opts.logger().Warnf("tarcodec: chown %q: %v", target, err)
	}
}

// ExtractGzip decompresses r with gzip and extracts the resulting ustar
// stream into dest.
func ExtractGzip(r io.Reader, dest string, opts Options) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()
	return Extract(gz, dest, opts)
}

// ExtractArchive dispatches on the archive's file extension (spec §4.1:
// ".tar.gz and .tar must decode internally"; ".tar.xz and .tar.bz2 the
// reader may defer to an external tar binary").
func ExtractArchive(path, dest string, opts Options) error {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"),
		strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return extractWithSystemTar(path, dest)
	case opts.ForceSystemTar:
		return extractWithSystemTar(path, dest)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return ExtractGzip(f, dest, opts)
	default: // .tar
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return Extract(f, dest, opts)
	}
}

func extractWithSystemTar(path, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	cmd := exec.Command("tar", "-xf", path, "-C", dest)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
