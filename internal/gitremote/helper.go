package gitremote

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/embedconsult/bootstrap-qcow2/internal/fetcher"
)

// Helper implements the remote-helper protocol on stdin/stdout (spec
// §4.4): capabilities, option, list, fetch, push, quit.
type Helper struct {
	Client   *fetcher.Client
	Base     string
	LocalDir string

	refs     []Ref
	refsRead bool
}

// NewHelper constructs a Helper for the given remote base URL and local
// git working directory.
func NewHelper(client *fetcher.Client, base, localDir string) *Helper {
	if client == nil {
		client = fetcher.New()
	}
	return &Helper{Client: client, Base: base, LocalDir: localDir}
}

// Run drives the protocol loop, reading commands from r and writing
// responses to w, until "quit" or EOF.
func (h *Helper) Run(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}

		switch {
		case line == "capabilities":
			if _, err := fmt.Fprint(w, "fetch\npush\noption\n\n"); err != nil {
				return err
			}
		case strings.HasPrefix(line, "option "):
			if _, err := fmt.Fprint(w, "ok\n"); err != nil {
				return err
			}
		case line == "list":
			if err := h.handleList(w); err != nil {
				return err
			}
		case strings.HasPrefix(line, "fetch "):
			if err := h.handleFetch(br, w, line); err != nil {
				return err
			}
		case strings.HasPrefix(line, "push "):
			if err := h.handlePush(br, w, line); err != nil {
				return err
			}
		case line == "quit":
			return nil
		default:
			return fmt.Errorf("gitremote: unrecognized command %q", line)
		}
	}
}

func (h *Helper) ensureRefs() error {
	if h.refsRead {
		return nil
	}
	refs, err := loadRefs(h.Client, h.Base)
	if err != nil {
		return err
	}
	h.refs = refs
	h.refsRead = true
	return nil
}

func (h *Helper) handleList(w io.Writer) error {
	if err := h.ensureRefs(); err != nil {
		return err
	}
	for _, ref := range h.refs {
		if _, err := fmt.Fprintf(w, "%s %s\n", ref.OID, ref.Name); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// handleFetch batches consecutive "fetch <oid> <ref>" lines (until a
// blank line) into a single upload-pack request (spec §4.4: "batched to
// a single upload-pack request").
func (h *Helper) handleFetch(br *bufio.Reader, w io.Writer, first string) error {
	var wants []string
	line := first
	for {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			wants = append(wants, fields[1])
		}
		next, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		next = strings.TrimRight(next, "\n")
		if next == "" {
			break
		}
		line = next
	}

	if err := Fetch(h.Client, h.Base, wants, w); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// handlePush batches consecutive "push <src>:<dst>" lines (until a blank
// line) into a single receive-pack request (spec §4.4: "batched to a
// single receive-pack request").
func (h *Helper) handlePush(br *bufio.Reader, w io.Writer, first string) error {
	var specs []string
	line := first
	for {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			specs = append(specs, fields[1])
		}
		next, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		next = strings.TrimRight(next, "\n")
		if next == "" {
			break
		}
		line = next
	}

	updates, err := h.buildRefUpdates(specs)
	if err != nil {
		return err
	}
	result, err := Push(h.Client, h.Base, h.LocalDir, updates)
	if err != nil {
		return err
	}

	for _, u := range updates {
		if reason, ok := result.PerRef[u.Ref]; ok && reason != "" {
			if _, err := fmt.Fprintf(w, "error %s %s\n", u.Ref, reason); err != nil {
				return err
			}
		} else {
			if _, err := fmt.Fprintf(w, "ok %s\n", u.Ref); err != nil {
				return err
			}
		}
	}
	_, err = fmt.Fprint(w, "\n")
	return err
}

// buildRefUpdates resolves old/new object ids for each "[+]<src>:<dst>"
// push spec (a leading '+' forces the update; a blank src deletes dst).
func (h *Helper) buildRefUpdates(specs []string) ([]RefUpdate, error) {
	if err := h.ensureRefs(); err != nil {
		return nil, err
	}
	remoteOID := make(map[string]string, len(h.refs))
	for _, ref := range h.refs {
		remoteOID[ref.Name] = ref.OID
	}

	updates := make([]RefUpdate, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimPrefix(spec, "+")
		src, dst, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("gitremote: malformed push spec %q", spec)
		}

		oldOID := remoteOID[dst]
		if oldOID == "" {
			oldOID = zeroOID
		}

		newOID := zeroOID
		if src != "" {
			resolved, err := resolveLocalOID(h.LocalDir, src)
			if err != nil {
				return nil, err
			}
			newOID = resolved
		}

		updates = append(updates, RefUpdate{OldOID: oldOID, NewOID: newOID, Ref: dst})
	}
	return updates, nil
}
