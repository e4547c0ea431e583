package sourcecache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/embedconsult/bootstrap-qcow2/internal/fetcher"
)

func TestFetch_DownloadsAndVerifiesHardCodedChecksum(t *testing.T) {
	const payload = "source archive contents"
	sum := sha256.Sum256([]byte(payload))
	want := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cache := New(dir, fetcher.New())
	req := Request{Name: "m4", URL: srv.URL + "/m4-1.0.tar.gz", SHA256: want}

	path, err := cache.Fetch(req)
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != payload {
		t.Fatalf("got %q", got)
	}

	sha256Path, crc32Path := sidecarPaths(path)
	if _, err := os.Stat(sha256Path); err != nil {
		t.Fatal("expected a sha256 sidecar to be written")
	}
	if _, err := os.Stat(crc32Path); err != nil {
		t.Fatal("expected a crc32 sidecar to be written")
	}
}

func TestFetch_ChecksumMismatchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("archive bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cache := New(dir, fetcher.New())
	req := Request{Name: "m4", URL: srv.URL + "/m4.tar.gz", SHA256: "0000000000000000000000000000000000000000000000000000000000000000"}

	if _, err := cache.Fetch(req); err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
}

func TestFetch_IdempotentOnIntactFile(t *testing.T) {
	fetchCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetchCount++
		w.Write([]byte("archive bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cache := New(dir, fetcher.New())
	req := Request{Name: "m4", URL: srv.URL + "/m4.tar.gz"}

	if _, err := cache.Fetch(req); err != nil {
		t.Fatal(err)
	}
	if fetchCount != 1 {
		t.Fatalf("fetchCount = %d after first fetch, want 1", fetchCount)
	}

	if _, err := cache.Fetch(req); err != nil {
		t.Fatal(err)
	}
	if fetchCount != 1 {
		t.Fatalf("fetchCount = %d after second fetch, want 1 (no re-download of an intact file)", fetchCount)
	}
}

func TestFetch_ChecksumSidecarURL(t *testing.T) {
	const payload = "archive bytes"
	sum := sha256.Sum256([]byte(payload))
	hexSum := hex.EncodeToString(sum[:])

	mux := http.NewServeMux()
	mux.HandleFunc("/m4.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	})
	mux.HandleFunc("/m4.tar.gz.sha256", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(hexSum + "  m4.tar.gz\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	cache := New(dir, fetcher.New())
	req := Request{Name: "m4", URL: srv.URL + "/m4.tar.gz", ChecksumURL: srv.URL + "/m4.tar.gz.sha256"}

	if _, err := cache.Fetch(req); err != nil {
		t.Fatal(err)
	}
}

func TestPath_DerivesFromNameAndURLBasename(t *testing.T) {
	cache := New(t.TempDir(), fetcher.New())
	got := cache.Path(Request{Name: "m4", URL: "https://ftp.gnu.org/gnu/m4/m4-1.4.19.tar.gz"})
	want := filepath.Join(cache.Dir, "sources", "m4-m4-1.4.19.tar.gz")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
