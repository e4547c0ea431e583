package fetcher

import "net/http"

// maxRedirects is the hop limit of spec §4.2.
const maxRedirects = 10

// userAgent is sent on every outgoing request (spec §4.2: "All outgoing
// requests carry a fixed User-Agent").
const userAgent = "bootstrap-qcow2-fetcher/1"

// nextRequest applies the redirect-code-specific method/body
// transformation table of spec §4.2 to produce the request for the next
// hop. body is nil when the transformed request carries no body.
func nextRequest(status int, method string, body []byte) (nextMethod string, nextBody []byte) {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound: // 301, 302
		if method == http.MethodPost {
			return http.MethodGet, nil
		}
		return method, body
	case http.StatusSeeOther: // 303
		return http.MethodGet, nil
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect: // 307, 308
		return method, body
	default:
		return method, body
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
