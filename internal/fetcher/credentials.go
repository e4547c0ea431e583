package fetcher

import (
	"bufio"
	"net/url"
	"os"
	"strings"
)

// Credential is one parsed `.git-credentials`-style entry: `scheme://
// user:pass@host[:port][/path]` (spec §4.2).
type Credential struct {
	Scheme   string
	User     string
	Pass     string
	Host     string
	Port     string
	Path     string
}

// LoadCredentialsFile parses a `.git-credentials`-style file, one entry
// per line; blank lines and unparsable lines are skipped.
func LoadCredentialsFile(path string) ([]Credential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var creds []Credential
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if c, ok := parseCredentialLine(line); ok {
			creds = append(creds, c)
		}
	}
	return creds, scanner.Err()
}

func parseCredentialLine(line string) (Credential, bool) {
	u, err := url.Parse(line)
	if err != nil || u.User == nil || u.Host == "" {
		return Credential{}, false
	}
	pass, _ := u.User.Password()
	return Credential{
		Scheme: u.Scheme,
		User:   u.User.Username(),
		Pass:   pass,
		Host:   u.Hostname(),
		Port:   u.Port(),
		Path:   strings.TrimSuffix(u.Path, "/"),
	}, true
}

// BestMatch selects the credential entry with the longest matching path
// prefix among those sharing the target's scheme, host, and a compatible
// port (spec §4.2: "the best match is the entry with the longest matching
// path prefix, same scheme, same host, and compatible port").
func BestMatch(creds []Credential, target *url.URL) (Credential, bool) {
	var best Credential
	bestLen := -1
	found := false

	for _, c := range creds {
		if c.Scheme != target.Scheme || c.Host != target.Hostname() {
			continue
		}
		if c.Port != "" && c.Port != target.Port() {
			continue
		}
		if !strings.HasPrefix(target.Path, c.Path) {
			continue
		}
		if len(c.Path) > bestLen {
			best = c
			bestLen = len(c.Path)
			found = true
		}
	}
	return best, found
}
