package gitremote

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/embedconsult/bootstrap-qcow2/internal/fetcher"
)

// receivePackCaps are advertised on the first command line of a push
// request (spec §4.4).
const receivePackCaps = "report-status agent=bootstrap-qcow2/1"

// RefUpdate is one requested ref update for Push.
type RefUpdate struct {
	OldOID string
	NewOID string
	Ref    string
}

// PushResult is the parsed receive-pack reply.
type PushResult struct {
	UnpackOK  bool
	UnpackErr string
	PerRef    map[string]string // ref -> "" (ok) or failure reason
}

// Push batches updates into a single receive-pack request, including a
// pack built by the host git when any update introduces a non-zero new
// oid (spec §4.4 "Push").
func Push(client *fetcher.Client, base, localDir string, updates []RefUpdate) (*PushResult, error) {
	var body bytes.Buffer
	needsPack := false
	for i, u := range updates {
		if u.NewOID != zeroOID {
			needsPack = true
		}
		line := fmt.Sprintf("%s %s %s", u.OldOID, u.NewOID, u.Ref)
		if i == 0 {
			line += "\x00" + receivePackCaps
		}
		body.WriteString(encodePkt(line + "\n"))
	}
	body.WriteString(flush())

	if needsPack {
		pack, err := packObjectsAll(localDir)
		if err != nil {
			return nil, err
		}
		body.Write(pack)
	}

	var sink fetcher.BufferSink
	url := strings.TrimRight(base, "/") + "/git-receive-pack"
	if _, err := client.Post(url, body.Bytes(), &sink); err != nil {
		return nil, err
	}
	return parseReceivePackReply(bufio.NewReader(bytes.NewReader(sink.Bytes())))
}

// parseReceivePackReply decodes "unpack ok"/"unpack <reason>" followed by
// per-ref "ok <ref>" / "ng <ref> <reason>" lines (spec §4.4 "Push").
func parseReceivePackReply(r *bufio.Reader) (*PushResult, error) {
	lines, err := readPktLines(r)
	if err != nil {
		return nil, err
	}
	result := &PushResult{PerRef: make(map[string]string)}
	for _, line := range lines {
		line = strings.TrimRight(line, "\n")
		if err := errLooksLikeError(line); err != nil {
			return nil, err
		}
		switch {
		case line == "unpack ok":
			result.UnpackOK = true
		case strings.HasPrefix(line, "unpack "):
			result.UnpackErr = strings.TrimPrefix(line, "unpack ")
		case strings.HasPrefix(line, "ok "):
			result.PerRef[strings.TrimPrefix(line, "ok ")] = ""
		case strings.HasPrefix(line, "ng "):
			rest := strings.TrimPrefix(line, "ng ")
			ref, reason, _ := strings.Cut(rest, " ")
			result.PerRef[ref] = reason
		}
	}
	return result, nil
}
