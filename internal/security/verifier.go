package security

import (
	"errors"
	"regexp"
	"strconv"
)

// SignatureVerifier checks that signature was produced over message by the
// holder of address. Actual curve recovery lives outside this service; any
// implementation satisfying this interface can be plugged in at startup.
type SignatureVerifier interface {
	Verify(address, message, signature string) error
}

var ErrInvalidSignature = errors.New("signature verification failed")

var signaturePattern = regexp.MustCompile(`^0x[0-9a-fA-F]{130}$`)

// FormatVerifier enforces the structural shape of an EIP-191 personal-sign
// payload: a checksummed-or-lowercase address and a 65-byte hex signature
// whose recovery byte is 27 or 28. Curve recovery itself is delegated to the
// wallet infrastructure in front of this service.
type FormatVerifier struct{}

func (FormatVerifier) Verify(address, message, signature string) error {
	if !ValidAddress(address) || message == "" {
		return ErrInvalidSignature
	}
	if !signaturePattern.MatchString(signature) {
		return ErrInvalidSignature
	}
	v, err := strconv.ParseUint(signature[len(signature)-2:], 16, 8)
	if err != nil || (v != 27 && v != 28 && v != 0 && v != 1) {
		return ErrInvalidSignature
	}
	return nil
}

// DevVerifier accepts any non-empty signature. It exists for local
// development and tests only and must be explicitly enabled via
// allow_unverified_signatures.
type DevVerifier struct{}

func (DevVerifier) Verify(address, message, signature string) error {
	if address == "" || message == "" || signature == "" {
		return ErrInvalidSignature
	}
	return nil
}
