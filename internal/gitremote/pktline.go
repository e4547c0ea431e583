// Package gitremote implements the git smart-HTTP remote-helper protocol
// of spec §4.4: pkt-line framing, ref advertisement parsing, and batched
// fetch/push sessions against a host git.
package gitremote

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// flushPkt is the zero-length "0000" pkt-line marker.
const flushPkt = "0000"

// encodePkt frames payload as one pkt-line: a 4-hex-digit length header
// (including the header itself) followed by the payload (spec §4.4).
func encodePkt(payload string) string {
	n := len(payload) + 4
	return fmt.Sprintf("%04x%s", n, payload)
}

// flush returns the pkt-line flush marker.
func flush() string { return flushPkt }

// readPkt reads one pkt-line from r. A flush packet is reported by
// returning ("", false, nil) — the caller checks the bool as "more
// payload pkt-lines may follow".
func readPkt(r *bufio.Reader) (string, bool, error) {
	lenHdr := make([]byte, 4)
	if _, err := io.ReadFull(r, lenHdr); err != nil {
		return "", false, err
	}
	var n int
	if _, err := fmt.Sscanf(string(lenHdr), "%04x", &n); err != nil {
		return "", false, fmt.Errorf("gitremote: malformed pkt-line length %q: %w", lenHdr, err)
	}
	if n == 0 {
		return "", false, nil
	}
	if n < 4 {
		return "", false, fmt.Errorf("gitremote: invalid pkt-line length %d", n)
	}
	payload := make([]byte, n-4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", false, err
	}
	return string(payload), true, nil
}

// readPktLines reads pkt-lines until a flush, returning the accumulated
// payloads in order.
func readPktLines(r *bufio.Reader) ([]string, error) {
	var lines []string
	for {
		line, ok, err := readPkt(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// errLooksLikeError reports whether a pkt-line payload is a protocol
// error line ("ERR <message>"), which raises per spec §4.4.
func errLooksLikeError(line string) error {
	const prefix = "ERR "
	if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
		return errors.New("gitremote: " + line[len(prefix):])
	}
	return nil
}
