package fetcher

import (
	"io"
	"net/http"

	"github.com/schollz/progressbar/v3"
)

// ProgressReporter renders fetch progress for a response of known or
// unknown content length. Not part of spec §4.2's contract proper —
// fetch progress is ambient UX, grounded on the teacher pack's download
// progress texture (see DESIGN.md).
type ProgressReporter interface {
	Bar(label string, total int64) *progressbar.ProgressBar
}

// DefaultProgress renders a byte-oriented progress bar to stderr via
// progressbar.DefaultBytes, the idiomatic constructor for exactly this
// download-progress shape.
type DefaultProgress struct{}

func (DefaultProgress) Bar(label string, total int64) *progressbar.ProgressBar {
	if total <= 0 {
		return progressbar.DefaultBytes(-1, label)
	}
	return progressbar.DefaultBytes(total, label)
}

// wrapProgress wraps resp.Body so reads advance the configured progress
// bar, or returns the body unwrapped when no ProgressReporter is set.
func (c *Client) wrapProgress(resp *http.Response) io.Reader {
	if c.Progress == nil {
		return resp.Body
	}
	bar := c.Progress.Bar(resp.Request.URL.String(), resp.ContentLength)
	return io.TeeReader(resp.Body, bar)
}
