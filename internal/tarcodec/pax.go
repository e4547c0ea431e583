package tarcodec

import (
	"fmt"
	"hash/crc32"
)

const ustarNameLimit = 99

// paxRecord formats one PAX extended-header record: "<len> <key>=<value>\n"
// where len includes itself (the classic self-referential PAX length
// fixpoint).
func paxRecord(key, value string) string {
	// initial guess, then correct for the length-of-length digit growth.
	n := len(key) + len(value) + 3
	for {
		s := fmt.Sprintf("%d %s=%s\n", n, key, value)
		if len(s) == n {
			return s
		}
		n = len(s)
	}
}

// truncatedPrefix derives a still-unique ustar-field-sized name from a
// full path that is too long to store directly, by truncating it and
// appending a CRC-32-derived suffix (spec §4.1 "Writer contract": "the
// ustar field is truncated to a still-unique prefix derived from a CRC-32
// of the full name").
func truncatedPrefix(fullName string) (string, error) {
	sum := crc32.ChecksumIEEE([]byte(fullName))
	suffix := fmt.Sprintf("~%08x", sum)
	if len(suffix) >= ustarNameLimit {
		return "", &LongPathError{Path: fullName}
	}
	keep := ustarNameLimit - len(suffix)
	if keep > len(fullName) {
		keep = len(fullName)
	}
	truncated := fullName[len(fullName)-keep:] + suffix
	if len(truncated) > ustarNameLimit {
		return "", &LongPathError{Path: fullName}
	}
	return truncated, nil
}
