package store

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// uchidDigits is the length of the human-readable channel id. Nine digits
// keeps the id short enough to dictate over voice while leaving collision
// retries rare.
const uchidDigits = 9

// NewUCHID derives a candidate human-readable channel id from a random UUID.
// Uniqueness is not guaranteed here; Create verifies it against the store and
// redraws on collision.
func NewUCHID() string {
	u := uuid.New()
	n := binary.BigEndian.Uint64(u[:8]) % 1_000_000_000
	s := strconv.FormatUint(n, 10)
	for len(s) < uchidDigits {
		s += "0"
	}
	return s
}

// FormatUCHID renders the id in the grouped 123-456-789 form shown to users.
func FormatUCHID(uchid string) string {
	if len(uchid) != uchidDigits {
		return uchid
	}
	return uchid[:3] + "-" + uchid[3:6] + "-" + uchid[6:]
}

// ParseUCHID strips the separators users paste in and validates the result.
// It returns the canonical digit string, or "" if the input is not a channel
// id.
func ParseUCHID(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ':
		default:
			return ""
		}
	}
	if b.Len() != uchidDigits {
		return ""
	}
	return b.String()
}
