package gitremote

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/embedconsult/bootstrap-qcow2/internal/fetcher"
)

// Ref is one advertised reference.
type Ref struct {
	OID  string
	Name string
}

// loadRefs fetches and decodes `<base>/info/refs?service=git-upload-pack`
// (spec §4.4 "Refs are loaded ... on first need").
func loadRefs(client *fetcher.Client, base string) ([]Ref, error) {
	var buf fetcher.BufferSink
	url := strings.TrimRight(base, "/") + "/info/refs?service=git-upload-pack"
	if _, err := client.Get(url, &buf); err != nil {
		return nil, err
	}

	r := bufio.NewReader(bytes.NewReader(buf.Bytes()))
	first, ok, err := readPkt(r)
	if err != nil {
		return nil, err
	}

	var lines []string
	if ok && strings.HasPrefix(first, "# service=") {
		// Consume the flush that terminates the service announcement
		// (spec §4.4: "a leading # service=... line and its flush are
		// skipped"), then read the ref lines proper.
		if _, _, err := readPkt(r); err != nil {
			return nil, err
		}
		lines, err = readPktLines(r)
		if err != nil {
			return nil, err
		}
	} else if ok {
		rest, err := readPktLines(r)
		if err != nil {
			return nil, err
		}
		lines = append([]string{first}, rest...)
	}
	return parseRefLines(lines), nil
}

// parseRefLines decodes "<oid> <refname>[NUL<capabilities>]" lines; the
// capability list trailing the first ref's refname is ignored (spec
// §4.4).
func parseRefLines(lines []string) []Ref {
	refs := make([]Ref, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\n")
		if nul := strings.IndexByte(line, 0); nul >= 0 {
			line = line[:nul]
		}
		oid, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		refs = append(refs, Ref{OID: oid, Name: name})
	}
	return refs
}
