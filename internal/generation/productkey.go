package generation

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

// productKeyAlphabet leaves out I, O, 0 and 1. Its 32 symbols divide 256
// evenly so masking a random byte carries no bias.
const productKeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	productKeyGroups    = 4
	productKeyGroupSize = 4
)

var productKeyPattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{4}(-[A-HJ-NP-Z2-9]{4}){3}$`)

// NewProductKey returns a key of the form XXXX-XXXX-XXXX-XXXX
func NewProductKey(random io.Reader) (string, error) {
	buf := make([]byte, productKeyGroups*productKeyGroupSize)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	var b strings.Builder
	for i, c := range buf {
		if i > 0 && i%productKeyGroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(productKeyAlphabet[c&31])
	}

	return b.String(), nil
}

// NormalizeProductKey accepts keys typed in lower case, with spaces or
// without dashes and returns the canonical grouped form.
func NormalizeProductKey(key string) string {
	var compact strings.Builder
	for _, r := range strings.ToUpper(key) {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		compact.WriteRune(r)
	}

	raw := compact.String()
	if len(raw) != productKeyGroups*productKeyGroupSize {
		return strings.ToUpper(strings.TrimSpace(key))
	}

	groups := make([]string, 0, productKeyGroups)
	for i := 0; i < len(raw); i += productKeyGroupSize {
		groups = append(groups, raw[i:i+productKeyGroupSize])
	}
	return strings.Join(groups, "-")
}

func ValidProductKey(key string) bool {
	return productKeyPattern.MatchString(key)
}
