// Package match classifies raw recording paths into session keys and
// channel roles. Matching is pure: it never touches the registry and
// has no side effects.
package match

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/callscribe/callscribe/internal/session"
)

// Rules describe the filename convention of the VoIP platform's
// recording spool. The defaults follow the Asterisk Monitor()
// convention of `<key>-in.wav` / `<key>-out.wav` pairs.
type Rules struct {
	// Extension is the accepted audio extension, without the dot.
	Extension string
	// InboundSuffix / OutboundSuffix are the stem suffixes naming the
	// channel role.
	InboundSuffix  string
	OutboundSuffix string
}

// DefaultRules returns the Asterisk spool convention.
func DefaultRules() Rules {
	return Rules{
		Extension:      "wav",
		InboundSuffix:  "-in",
		OutboundSuffix: "-out",
	}
}

// Result is a successful classification of a path.
type Result struct {
	Key      session.Key
	Role     session.ChannelRole
	Sequence int
}

// Matcher applies Rules to raw paths.
type Matcher struct {
	rules Rules
}

// New creates a Matcher, filling in defaults for zero-value rule fields.
func New(rules Rules) *Matcher {
	def := DefaultRules()
	if rules.Extension == "" {
		rules.Extension = def.Extension
	}
	rules.Extension = strings.TrimPrefix(rules.Extension, ".")
	if rules.InboundSuffix == "" {
		rules.InboundSuffix = def.InboundSuffix
	}
	if rules.OutboundSuffix == "" {
		rules.OutboundSuffix = def.OutboundSuffix
	}
	return &Matcher{rules: rules}
}

// Match parses a raw path into a (key, role, sequence) tuple. It
// reports false for paths that do not belong to a call recording:
// wrong extension, temp/partial files, or an empty stem. Those are
// skipped by the engine, not treated as errors.
func (m *Matcher) Match(path string) (Result, bool) {
	base := filepath.Base(path)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return Result{}, false
	}
	// Hidden and editor temp files are partial writes in disguise.
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") || strings.HasSuffix(base, "~") {
		return Result{}, false
	}

	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	if !strings.EqualFold(ext, m.rules.Extension) {
		return Result{}, false
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		return Result{}, false
	}

	role := session.RoleUnknown
	switch {
	case strings.HasSuffix(stem, m.rules.InboundSuffix):
		role = session.RoleInbound
		stem = strings.TrimSuffix(stem, m.rules.InboundSuffix)
	case strings.HasSuffix(stem, m.rules.OutboundSuffix):
		role = session.RoleOutbound
		stem = strings.TrimSuffix(stem, m.rules.OutboundSuffix)
	}
	if stem == "" {
		return Result{}, false
	}

	return Result{
		Key:      session.Key(stem),
		Role:     role,
		Sequence: trailingSequence(stem),
	}, true
}

// PairPath returns the expected path of a file's counterpart, or ""
// when the path names no role.
func (m *Matcher) PairPath(path string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	switch {
	case strings.HasSuffix(stem, m.rules.InboundSuffix):
		return strings.TrimSuffix(stem, m.rules.InboundSuffix) + m.rules.OutboundSuffix + ext
	case strings.HasSuffix(stem, m.rules.OutboundSuffix):
		return strings.TrimSuffix(stem, m.rules.OutboundSuffix) + m.rules.InboundSuffix + ext
	}
	return ""
}

// trailingSequence extracts a numeric suffix from the key stem, if the
// platform appends one (`call-20260829-3`). Zero when absent.
func trailingSequence(stem string) int {
	i := strings.LastIndexByte(stem, '-')
	if i < 0 || i == len(stem)-1 {
		return 0
	}
	n, err := strconv.Atoi(stem[i+1:])
	if err != nil {
		return 0
	}
	return n
}
