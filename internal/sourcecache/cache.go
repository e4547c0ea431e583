// Package sourcecache implements the content-addressed download cache of
// spec §4.3: fetch-if-missing, SHA-256/CRC-32 verification against
// hard-coded, cached, or fetched checksums, and retry-with-backoff.
package sourcecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/embedconsult/bootstrap-qcow2/internal/fetcher"
	"github.com/embedconsult/bootstrap-qcow2/internal/metrics"
)

const (
	maxAttempts  = 3
	retryBackoff = 2 * time.Second
)

// Request describes one package's source archive (spec §4.3, drawing
// from catalog.Package's fetch fields).
type Request struct {
	Name        string
	URL         string
	SHA256      string // hard-coded checksum, if known
	ChecksumURL string // sidecar checksum URL, if any
}

// Cache fetches and verifies source archives under dir/sources.
type Cache struct {
	Dir    string
	Client *fetcher.Client
}

// New returns a Cache rooted at dir.
func New(dir string, client *fetcher.Client) *Cache {
	if client == nil {
		client = fetcher.New()
	}
	return &Cache{Dir: dir, Client: client}
}

func (c *Cache) sourcesDir() string {
	return filepath.Join(c.Dir, "sources")
}

func basename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return filepath.Base(rawURL)
	}
	return filepath.Base(u.Path)
}

// Path returns the on-disk archive path for a request without fetching.
func (c *Cache) Path(req Request) string {
	return filepath.Join(c.sourcesDir(), req.Name+"-"+basename(req.URL))
}

func sidecarPaths(archivePath string) (sha256Path, crc32Path string) {
	return archivePath + ".sha256", archivePath + ".crc32"
}

// Fetch ensures the archive named by req is present and verified,
// retrying up to maxAttempts times with retryBackoff between attempts
// (spec §4.3). Idempotent: a second call with an intact file does no I/O
// beyond verification.
func (c *Cache) Fetch(req Request) (string, error) {
	archivePath := c.Path(req)
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.ensurePresent(req, archivePath); err != nil {
			lastErr = err
		} else if err := c.verify(req, archivePath); err != nil {
			lastErr = err
			os.Remove(archivePath)
		} else {
			return archivePath, nil
		}

		if attempt < maxAttempts {
			time.Sleep(retryBackoff)
		}
	}
	metrics.IncFetchFailure(req.Name)
	return "", fmt.Errorf("sourcecache: %s: failed after %d attempts: %w", req.Name, maxAttempts, lastErr)
}

func (c *Cache) ensurePresent(req Request, archivePath string) error {
	info, err := os.Stat(archivePath)
	if err == nil && info.Size() > 0 {
		return nil
	}
	sink, err := fetcher.NewFileSink(archivePath)
	if err != nil {
		return err
	}
	defer sink.Close()
	if _, err := c.Client.Get(req.URL, sink); err != nil {
		return err
	}
	if info, err := os.Stat(archivePath); err == nil {
		metrics.AddFetchBytes(req.Name, info.Size())
	}
	return nil
}

// verify checks SHA-256 against (in order) a hard-coded value, a cached
// sidecar, or a fetched checksum sidecar, then compares CRC-32 to any
// cached value (spec §4.3). On success both sidecars are (re)persisted.
func (c *Cache) verify(req Request, archivePath string) error {
	wantSHA256, err := c.resolveSHA256(req, archivePath)
	if err != nil {
		return err
	}

	gotSHA256, gotCRC32, err := digestFile(archivePath)
	if err != nil {
		return err
	}
	if wantSHA256 != "" && wantSHA256 != gotSHA256 {
		return fmt.Errorf("sourcecache: %s: sha256 mismatch: want %s, got %s", req.Name, wantSHA256, gotSHA256)
	}

	sha256Path, crc32Path := sidecarPaths(archivePath)
	if cached, err := os.ReadFile(crc32Path); err == nil {
		if want := strings.TrimSpace(string(cached)); want != "" && want != gotCRC32 {
			return fmt.Errorf("sourcecache: %s: crc32 mismatch: want %s, got %s", req.Name, want, gotCRC32)
		}
	}

	if err := os.WriteFile(sha256Path, []byte(gotSHA256+"\n"), 0644); err != nil {
		return err
	}
	return os.WriteFile(crc32Path, []byte(gotCRC32+"\n"), 0644)
}

func (c *Cache) resolveSHA256(req Request, archivePath string) (string, error) {
	if req.SHA256 != "" {
		return strings.ToLower(req.SHA256), nil
	}
	sha256Path, _ := sidecarPaths(archivePath)
	if cached, err := os.ReadFile(sha256Path); err == nil {
		if v := strings.TrimSpace(string(cached)); v != "" {
			return strings.ToLower(v), nil
		}
	}
	if req.ChecksumURL == "" {
		return "", nil
	}
	var buf fetcher.BufferSink
	if _, err := c.Client.Get(req.ChecksumURL, &buf); err != nil {
		return "", fmt.Errorf("sourcecache: %s: fetching checksum sidecar: %w", req.Name, err)
	}
	fields := strings.Fields(string(buf.Bytes()))
	if len(fields) == 0 {
		return "", fmt.Errorf("sourcecache: %s: empty checksum sidecar", req.Name)
	}
	return strings.ToLower(fields[0]), nil
}

func digestFile(path string) (sha256Hex, crc32Hex string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	h256 := sha256.New()
	h32 := crc32.NewIEEE()
	if _, err := io.Copy(io.MultiWriter(h256, h32), f); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(h256.Sum(nil)), fmt.Sprintf("%08x", h32.Sum32()), nil
}
