package tarcodec

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
)

// WriteGzip walks root and writes a gzipped ustar archive of it to w
// (spec §4.1 "Writer contract").
func WriteGzip(w io.Writer, root string) error {
	gz := gzip.NewWriter(w)
	if err := Write(gz, root); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// Write walks root and writes an uncompressed ustar archive of it to w.
func Write(w io.Writer, root string) error {
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		return writeEntry(w, p, rel, info)
	})
	if err != nil {
		return err
	}
	_, err = w.Write(make([]byte, blockSize*2))
	return err
}

func writeEntry(w io.Writer, fullPath, relName string, info os.FileInfo) error {
	h := header{
		mode:  int64(info.Mode().Perm()),
		mtime: info.ModTime().Unix(),
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		link, err := os.Readlink(fullPath)
		if err != nil {
			return err
		}
		h.typeflag = typeSymlink
		h.linkname = link
	case info.IsDir():
		h.typeflag = typeDir
		relName += "/"
	default:
		h.typeflag = typeRegular
		h.size = info.Size()
	}

	if err := setName(&h, relName); err != nil {
		return err
	}

	headerBlocks, err := marshalHeaderWithPAX(h, relName)
	if err != nil {
		return err
	}
	if _, err := w.Write(headerBlocks); err != nil {
		return err
	}

	if h.typeflag != typeRegular {
		return nil
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return err
	}
	defer f.Close()

	written, err := io.Copy(w, f)
	if err != nil {
		return err
	}
	pad := paddedSize(written) - written
	if pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return err
		}
	}
	return nil
}

// setName fills h.name/h.prefix for a short path, or leaves both empty
// when the path needs a PAX long-name record (signaled by returning a
// non-nil marshalHeaderWithPAX path below).
func setName(h *header, name string) error {
	if len(name) <= 100 {
		h.name = name
		return nil
	}
	// ustar can still express paths up to 100+1+155 bytes by splitting at
	// a '/' boundary into prefix+name.
	if len(name) <= 256 {
		if prefix, base, ok := splitUstarPath(name); ok {
			h.prefix = prefix
			h.name = base
			return nil
		}
	}
	return nil // falls through to the PAX/truncation path in marshalHeaderWithPAX
}

func splitUstarPath(name string) (prefix, base string, ok bool) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] != '/' {
			continue
		}
		p, b := name[:i], name[i+1:]
		if len(p) <= 155 && len(b) <= 100 {
			return p, b, true
		}
	}
	return "", "", false
}

// marshalHeaderWithPAX returns the header block(s) for relName, inserting
// a PAX extended-header block beforehand when relName didn't fit directly
// into the ustar name/prefix fields (spec §4.1 "Writer contract": PAX
// long-name fallback, CRC-32-truncated ustar field).
func marshalHeaderWithPAX(h header, relName string) ([]byte, error) {
	if h.name != "" || len(relName) <= 100 {
		return encodeHeader(h), nil
	}

	truncated, err := truncatedPrefix(relName)
	if err != nil {
		return nil, err
	}

	record := paxRecord("path", relName)
	paxHeader := header{
		name:     "PaxHeaders/" + truncated,
		mode:     0644,
		size:     int64(len(record)),
		typeflag: typePAX,
		mtime:    h.mtime,
	}
	if len(paxHeader.name) > 100 {
		paxHeader.name = truncated
	}

	out := make([]byte, 0, blockSize*2)
	out = append(out, encodeHeader(paxHeader)...)
	out = append(out, []byte(record)...)
	padLen := paddedSize(int64(len(record))) - int64(len(record))
	out = append(out, make([]byte, padLen)...)

	h.name = truncated
	out = append(out, encodeHeader(h)...)
	return out, nil
}
