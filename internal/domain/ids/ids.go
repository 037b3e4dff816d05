package ids

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ulidRegex   = regexp.MustCompile(`(?i)^[0-9A-HJKMNP-TV-Z]{26}$`)
	regNumRegex = regexp.MustCompile(`^REG-(\d{4})-(\d{6,})$`)

	ErrInvalidULID               = errors.New("invalid ULID")
	ErrInvalidRegistrationNumber = errors.New("invalid registration number")
)

// NewULID generates a new ULID string.
func NewULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IsULID returns true when value is a valid ULID (case-insensitive Crockford Base32).
func IsULID(value string) bool {
	return ulidRegex.MatchString(strings.TrimSpace(value))
}

// ValidateULID validates a ULID string.
func ValidateULID(value string) error {
	if !IsULID(value) {
		return ErrInvalidULID
	}
	return nil
}

// FormatRegistrationNumber renders a registration number in the canonical
// REG-<year>-<seq> form. The sequence is global across all events and
// gap-tolerant: callers must never assume consecutive numbers.
func FormatRegistrationNumber(year int, seq int64) string {
	return fmt.Sprintf("REG-%04d-%06d", year, seq)
}

// ParseRegistrationNumber extracts the year and sequence from a registration
// number previously produced by FormatRegistrationNumber.
func ParseRegistrationNumber(value string) (year int, seq int64, err error) {
	matches := regNumRegex.FindStringSubmatch(strings.TrimSpace(value))
	if matches == nil {
		return 0, 0, ErrInvalidRegistrationNumber
	}
	year, err = strconv.Atoi(matches[1])
	if err != nil {
		return 0, 0, ErrInvalidRegistrationNumber
	}
	seq, err = strconv.ParseInt(matches[2], 10, 64)
	if err != nil {
		return 0, 0, ErrInvalidRegistrationNumber
	}
	return year, seq, nil
}
