package gitremote

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/embedconsult/bootstrap-qcow2/internal/fetcher"
)

// uploadPackCaps are advertised on the first "want" line of a fetch
// request (spec §4.4).
const uploadPackCaps = "multi_ack_detailed no-done side-band-64k thin-pack ofs-delta agent=bootstrap-qcow2/1"

// Fetch batches one or more wanted object ids into a single upload-pack
// request and writes the received pack data to out (spec §4.4 "Fetch").
func Fetch(client *fetcher.Client, base string, wants []string, out io.Writer) error {
	var body bytes.Buffer
	for i, oid := range wants {
		if i == 0 {
			body.WriteString(encodePkt(fmt.Sprintf("want %s %s\n", oid, uploadPackCaps)))
		} else {
			body.WriteString(encodePkt(fmt.Sprintf("want %s\n", oid)))
		}
	}
	body.WriteString(flush())
	body.WriteString(encodePkt("done\n"))
	body.WriteString(flush())

	var sink fetcher.BufferSink
	url := strings.TrimRight(base, "/") + "/git-upload-pack"
	if _, err := client.Post(url, body.Bytes(), &sink); err != nil {
		return err
	}

	return drainUploadPackReply(bufio.NewReader(bytes.NewReader(sink.Bytes())), out)
}

// drainUploadPackReply drains ACK/NAK pkt-lines until the first flush,
// then copies the remaining raw pack bytes verbatim to out; an "ERR …"
// pkt-line at any point raises (spec §4.4).
func drainUploadPackReply(r *bufio.Reader, out io.Writer) error {
	for {
		line, ok, err := readPkt(r)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := errLooksLikeError(line); err != nil {
			return err
		}
		if strings.HasPrefix(line, "NAK") || strings.HasPrefix(line, "ACK") {
			continue
		}
		// Unrecognized non-ack/nak line before the flush: still advance.
	}
	_, err := io.Copy(out, r)
	return err
}
