package security

import (
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether s is a well-formed wallet address. Mixed-case
// addresses must additionally carry a valid EIP-55 checksum.
func ValidAddress(s string) bool {
	if !addressPattern.MatchString(s) {
		return false
	}
	hexPart := s[2:]
	if hexPart == strings.ToLower(hexPart) || hexPart == strings.ToUpper(hexPart) {
		return true
	}
	return ChecksumAddress(s) == s
}

// CanonicalAddress lowercases an address; all storage and lookups use this form.
func CanonicalAddress(s string) string {
	return strings.ToLower(s)
}

// ChecksumAddress returns the EIP-55 mixed-case form of the address: each hex
// letter is uppercased iff the corresponding nibble of the keccak-256 hash of
// the lowercase hex string is >= 8.
func ChecksumAddress(s string) string {
	hexPart := strings.ToLower(strings.TrimPrefix(s, "0x"))

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexPart))
	hash := h.Sum(nil)

	var b strings.Builder
	b.WriteString("0x")
	for i := 0; i < len(hexPart); i++ {
		c := hexPart[i]
		if c >= 'a' && c <= 'f' {
			nibble := hash[i/2] >> (4 * uint(1-i%2)) & 0x0f
			if nibble >= 8 {
				c = c - 'a' + 'A'
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ShortAddress renders the conventional abbreviated form used as a default
// nickname, e.g. 0x1234...abcd.
func ShortAddress(s string) string {
	if len(s) < 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}
