package projects

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	defaultSlugBase  = "project"
	maxSlugSuffix    = 50
	maxInsertRetries = 5
)

// NormalizeSlug lowercases title, keeps [a-z0-9 -], and collapses whitespace and
// hyphen runs into a single hyphen.
func NormalizeSlug(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	pendingHyphen := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case r == '-', r == ' ', r == '\t', r == '\n', r == '\r':
			pendingHyphen = true
		}
	}
	if b.Len() == 0 {
		return defaultSlugBase
	}
	return b.String()
}

// slugCandidates lists base, base-1 ... base-50 in the order they are tried.
func slugCandidates(base string) []string {
	out := make([]string, 0, maxSlugSuffix+1)
	out = append(out, base)
	for i := 1; i <= maxSlugSuffix; i++ {
		out = append(out, base+"-"+strconv.Itoa(i))
	}
	return out
}

func randomSlug(base string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return base + "-" + hex.EncodeToString(buf)
}
