package gitremote

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/embedconsult/bootstrap-qcow2/internal/fetcher"
)

func TestEncodeDecodePkt_RoundTrip(t *testing.T) {
	encoded := encodePkt("want deadbeef\n")
	if !strings.HasPrefix(encoded, "0012") {
		t.Fatalf("got %q, want a 0012 length header", encoded)
	}

	r := bufio.NewReader(strings.NewReader(encoded))
	line, ok, err := readPkt(r)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || line != "want deadbeef\n" {
		t.Fatalf("got (%q, %v)", line, ok)
	}
}

func TestReadPkt_FlushReportsFalse(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(flush()))
	_, ok, err := readPkt(r)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for a flush packet")
	}
}

func TestReadPktLines_StopsAtFlush(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(encodePkt("one\n"))
	buf.WriteString(encodePkt("two\n"))
	buf.WriteString(flush())
	buf.WriteString(encodePkt("three\n")) // should not be read

	r := bufio.NewReader(&buf)
	lines, err := readPktLines(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0] != "one\n" || lines[1] != "two\n" {
		t.Fatalf("got %+v", lines)
	}
}

func TestErrLooksLikeError(t *testing.T) {
	if err := errLooksLikeError("ERR repository not found"); err == nil {
		t.Fatal("expected an error for an ERR line")
	}
	if err := errLooksLikeError("NAK"); err != nil {
		t.Fatal("did not expect an error for a non-ERR line")
	}
}

func TestParseRefLines_StripsCapabilitiesOnFirstRef(t *testing.T) {
	lines := []string{
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa HEAD\x00multi_ack thin-pack\n",
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb refs/heads/main\n",
	}
	refs := parseRefLines(lines)
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	if refs[0].Name != "HEAD" || refs[0].OID != "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" {
		t.Fatalf("got %+v", refs[0])
	}
	if refs[1].Name != "refs/heads/main" {
		t.Fatalf("got %+v", refs[1])
	}
}

func TestLoadRefs_SkipsServiceAnnouncement(t *testing.T) {
	var body bytes.Buffer
	body.WriteString(encodePkt("# service=git-upload-pack\n"))
	body.WriteString(flush())
	body.WriteString(encodePkt("cccccccccccccccccccccccccccccccccccccccc refs/heads/main\x00cap1 cap2\n"))
	body.WriteString(flush())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body.Bytes())
	}))
	defer srv.Close()

	refs, err := loadRefs(fetcher.New(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Name != "refs/heads/main" {
		t.Fatalf("got %+v", refs)
	}
}

func TestHelper_CapabilitiesAndQuit(t *testing.T) {
	h := NewHelper(nil, "https://example.test/repo", t.TempDir())
	in := strings.NewReader("capabilities\nquit\n")
	var out bytes.Buffer
	if err := h.Run(in, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "fetch") || !strings.Contains(out.String(), "push") {
		t.Fatalf("got %q", out.String())
	}
}

func TestHelper_ListAdvertisesRefs(t *testing.T) {
	var body bytes.Buffer
	body.WriteString(encodePkt("dddddddddddddddddddddddddddddddddddddddd refs/heads/main\x00cap\n"))
	body.WriteString(flush())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body.Bytes())
	}))
	defer srv.Close()

	h := NewHelper(fetcher.New(), srv.URL, t.TempDir())
	in := strings.NewReader("list\nquit\n")
	var out bytes.Buffer
	if err := h.Run(in, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "refs/heads/main") {
		t.Fatalf("got %q", out.String())
	}
}

func TestHelper_UnrecognizedCommandErrors(t *testing.T) {
	h := NewHelper(nil, "https://example.test/repo", t.TempDir())
	in := strings.NewReader("not-a-real-command\n")
	var out bytes.Buffer
	if err := h.Run(in, &out); err == nil {
		t.Fatal("expected an error for an unrecognized command")
	}
}

func TestIsHex(t *testing.T) {
	if !isHex("deadbeef0123456789") {
		t.Fatal("expected hex digits to be recognized")
	}
	if isHex("not-hex!") {
		t.Fatal("expected non-hex characters to be rejected")
	}
}
