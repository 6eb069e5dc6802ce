// Package idgen generates capture session identifiers and download file names.
//
// The capture pipeline accepts a Generator so tests can pin ids while
// production uses time-sortable UUIDv7 values.
package idgen

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionPrefix scopes capture session ids.
const SessionPrefix = "cap_"

// DefaultPattern is the download file-name pattern used when none is configured.
const DefaultPattern = "snapflow-{date}-{time}"

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Session is the default capture session id generator.
var Session Generator = Prefixed(SessionPrefix, UUIDv7())

// New produces a capture session id.
func New() string {
	return Session()
}

// ParseSession validates a session id produced by Session and returns it
// in canonical form. Callers that pin their own capture id go through it.
func ParseSession(s string) (string, error) {
	rest, ok := strings.CutPrefix(s, SessionPrefix)
	if !ok {
		return "", fmt.Errorf("invalid session id %q: missing %q prefix", s, SessionPrefix)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", s, err)
	}
	return SessionPrefix + u.String(), nil
}

// Filename expands a download file-name pattern for one output file.
//
// Supported placeholders: {date} (2006-01-02), {time} (15-04-05) and
// {timestamp} (unix milliseconds). When total > 1 the name gets a
// "-part-N" suffix with N counted from 1. ext is appended verbatim
// and should carry its leading dot.
func Filename(pattern string, at time.Time, part, total int, ext string) string {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}
	name := strings.NewReplacer(
		"{date}", at.Format("2006-01-02"),
		"{time}", at.Format("15-04-05"),
		"{timestamp}", strconv.FormatInt(at.UnixMilli(), 10),
	).Replace(pattern)
	name = sanitize(name)
	if total > 1 {
		name += "-part-" + strconv.Itoa(part+1)
	}
	return name + ext
}

// sanitize drops path separators and characters that break a
// Content-Disposition header.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', ':', '*', '?', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
}
