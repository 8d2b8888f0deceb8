// internal/cookies/cookies.go

// Package cookies translates between the engine's live cookie jar and a
// portable, line-oriented cookie-jar file compatible with the classic
// Netscape/LWP "Set-Cookie3" convention. It lets automation scripts persist
// sessions across runs without the core caring about storage mechanics.
package cookies

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/specter/internal/engine"
)

// MaxExpiry is the signed-32-bit epoch ceiling. Expiries beyond it are
// clamped on export to avoid overflow on narrow platforms.
const MaxExpiry int64 = 2147483647

// ErrUnsupportedStorage is returned when a storage argument is neither a
// file path nor an in-memory record collection.
var ErrUnsupportedStorage = errors.New("unsupported cookie storage type")

// Record is one portable cookie. Name, value, secure, domain and path always
// survive a round trip; Expires is lossily clamped to MaxExpiry; HTTPOnly is
// best-effort and is lost when written through the portable file format
// (documented limitation, not silently corrected).
type Record struct {
	Name             string
	Value            string
	Domain           string
	DomainInitialDot bool
	Path             string
	PathSpecified    bool
	Secure           bool
	HTTPOnly         bool
	// Expires is an epoch timestamp, clamped to MaxExpiry; zero means a
	// session cookie.
	Expires int64
}

// Export reproduces the engine jar's cookies as portable records.
func Export(jar []engine.Cookie) []Record {
	records := make([]Record, 0, len(jar))
	for _, c := range jar {
		var expires int64
		if !c.Expires.IsZero() {
			expires = c.Expires.Unix()
			if expires > MaxExpiry {
				expires = MaxExpiry
			}
		}
		records = append(records, Record{
			Name:             c.Name,
			Value:            c.Value,
			Domain:           c.Domain,
			DomainInitialDot: strings.HasPrefix(c.Domain, "."),
			Path:             c.Path,
			PathSpecified:    c.Path != "",
			Secure:           c.Secure,
			HTTPOnly:         c.HTTPOnly,
			Expires:          expires,
		})
	}
	return records
}

// Import converts portable records back into engine cookies.
func Import(records []Record) []engine.Cookie {
	jar := make([]engine.Cookie, 0, len(records))
	for _, r := range records {
		c := engine.Cookie{
			Name:     r.Name,
			Value:    r.Value,
			Secure:   r.Secure,
			HTTPOnly: r.HTTPOnly,
		}
		if r.PathSpecified {
			c.Path = r.Path
		}
		if r.Domain != "" {
			c.Domain = r.Domain
		}
		if r.Expires != 0 {
			c.Expires = time.Unix(r.Expires, 0).UTC()
		}
		jar = append(jar, c)
	}
	return jar
}

// Load resolves a storage argument into records: a string is treated as a
// path to a portable cookie-jar file, a []Record is passed through. Any
// other type fails with ErrUnsupportedStorage.
func Load(storage any) ([]Record, error) {
	switch v := storage.(type) {
	case string:
		return ReadFile(v)
	case []Record:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedStorage, storage)
	}
}

// Save writes records to a storage argument: a string path gets the portable
// file format, a *[]Record receives the records in memory. Any other type
// fails with ErrUnsupportedStorage.
func Save(storage any, records []Record) error {
	switch v := storage.(type) {
	case string:
		return WriteFile(v, records)
	case *[]Record:
		*v = append(*v, records...)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedStorage, storage)
	}
}
