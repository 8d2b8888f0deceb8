// internal/cookies/lwp.go
package cookies

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// The on-disk format is the LWP "Set-Cookie3" convention: a magic header
// line followed by one logical record per cookie. Example:
//
//	#LWP-Cookies-2.0
//	Set-Cookie3: sid=abc123; path="/"; domain="example.com"; path_spec; secure; expires="2038-01-19 03:14:07Z"; version=0
//
// Value attributes are quoted; boolean attributes appear bare. There is no
// attribute for http-only, which is how that flag gets lost on a file round
// trip.

const lwpMagic = "#LWP-Cookies-2.0"

const lwpTimeLayout = "2006-01-02 15:04:05Z"

// ReadFile loads a portable cookie-jar file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cookie file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rest, ok := strings.CutPrefix(line, "Set-Cookie3:")
		if !ok {
			return nil, fmt.Errorf("cookie file %s line %d: unrecognized record", path, lineNo)
		}
		record, err := parseLWPRecord(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("cookie file %s line %d: %w", path, lineNo, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading cookie file: %w", err)
	}
	return records, nil
}

// WriteFile saves records as a portable cookie-jar file.
func WriteFile(path string, records []Record) error {
	var b strings.Builder
	b.WriteString(lwpMagic)
	b.WriteByte('\n')
	for _, r := range records {
		b.WriteString(formatLWPRecord(r))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing cookie file: %w", err)
	}
	return nil
}

func formatLWPRecord(r Record) string {
	parts := []string{fmt.Sprintf("Set-Cookie3: %s=%s", r.Name, quoteLWP(r.Value))}
	if r.PathSpecified {
		parts = append(parts, fmt.Sprintf("path=%q", r.Path))
		parts = append(parts, "path_spec")
	}
	if r.Domain != "" {
		parts = append(parts, fmt.Sprintf("domain=%q", r.Domain))
		if r.DomainInitialDot {
			parts = append(parts, "domain_dot")
		}
	}
	if r.Secure {
		parts = append(parts, "secure")
	}
	if r.Expires != 0 {
		parts = append(parts, fmt.Sprintf("expires=%q", time.Unix(r.Expires, 0).UTC().Format(lwpTimeLayout)))
	}
	parts = append(parts, "version=0")
	return strings.Join(parts, "; ")
}

func parseLWPRecord(s string) (Record, error) {
	fields := splitLWPFields(s)
	if len(fields) == 0 {
		return Record{}, fmt.Errorf("empty record")
	}

	name, value, found := strings.Cut(strings.TrimSpace(fields[0]), "=")
	if !found {
		return Record{}, fmt.Errorf("missing name=value pair")
	}
	record := Record{Name: name, Value: unquoteLWP(value)}

	for _, field := range fields[1:] {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, val, hasValue := strings.Cut(field, "=")
		if hasValue {
			val = unquoteLWP(val)
		}
		switch strings.ToLower(key) {
		case "path":
			record.Path = val
		case "path_spec":
			record.PathSpecified = true
		case "domain":
			record.Domain = val
		case "domain_dot":
			record.DomainInitialDot = true
		case "secure":
			record.Secure = true
		case "expires":
			t, err := time.Parse(lwpTimeLayout, val)
			if err != nil {
				return Record{}, fmt.Errorf("bad expires %q: %w", val, err)
			}
			expires := t.Unix()
			if expires > MaxExpiry {
				expires = MaxExpiry
			}
			record.Expires = expires
		case "version", "discard", "port", "port_spec", "comment", "commenturl":
			// Recognized but not carried by Record.
		default:
			// Unknown attributes are preserved-by-ignore, matching the
			// tolerant readers of the LWP lineage.
		}
	}

	if record.Path != "" && !record.PathSpecified {
		record.PathSpecified = true
	}
	if record.Domain != "" {
		record.DomainInitialDot = strings.HasPrefix(record.Domain, ".")
	}
	return record, nil
}

// splitLWPFields splits a record on semicolons, leaving semicolons inside
// quoted attribute values intact.
func splitLWPFields(s string) []string {
	var fields []string
	var inQuote, escaped bool
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inQuote:
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case c == ';' && !inQuote:
			fields = append(fields, s[start:i])
			start = i + 1
		}
	}
	fields = append(fields, s[start:])
	return fields
}

func quoteLWP(v string) string {
	// Values that could be misread as attribute separators get quoted.
	if v == "" || strings.ContainsAny(v, `;," `) {
		return strconv.Quote(v)
	}
	return v
}

func unquoteLWP(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		if unquoted, err := strconv.Unquote(v); err == nil {
			return unquoted
		}
	}
	return v
}
