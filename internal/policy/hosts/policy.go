// Package hosts decides which source hosts the service may drive a browser to.
package hosts

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrBlocked is returned for source URLs whose host the policy rejects.
var ErrBlocked = errors.New("source host is not allowed")

// Policy combines an allowlist and a denylist of host patterns. Patterns are
// exact hosts ("example.org") or suffix wildcards ("*.example.org" or
// ".example.org"). Deny wins over allow; an empty allowlist allows any host.
type Policy struct {
	allow *patternSet
	deny  *patternSet
}

// New builds a Policy. It returns nil when both lists are empty, and a nil
// Policy allows everything.
func New(allow, deny []string) *Policy {
	p := &Policy{allow: newPatternSet(allow), deny: newPatternSet(deny)}
	if p.allow == nil && p.deny == nil {
		return nil
	}
	return p
}

// Allow reports whether rawURL may be captured.
func (p *Policy) Allow(rawURL string) error {
	if p == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: cannot determine host of %q", ErrBlocked, rawURL)
	}
	host := u.Hostname()
	if p.deny.matches(host) {
		return fmt.Errorf("%w: %s is denied", ErrBlocked, host)
	}
	if p.allow != nil && !p.allow.matches(host) {
		return fmt.Errorf("%w: %s is not on the allowlist", ErrBlocked, host)
	}
	return nil
}

type patternSet struct {
	exact    map[string]struct{}
	suffixes []string
}

func newPatternSet(patterns []string) *patternSet {
	set := &patternSet{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			set.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			set.addSuffix(strings.TrimPrefix(value, "."))
		default:
			set.exact[value] = struct{}{}
		}
	}
	if len(set.exact) == 0 && len(set.suffixes) == 0 {
		return nil
	}
	return set
}

func (s *patternSet) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range s.suffixes {
		if existing == suffix {
			return
		}
	}
	s.suffixes = append(s.suffixes, suffix)
}

func (s *patternSet) matches(host string) bool {
	if s == nil {
		return false
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	if _, ok := s.exact[host]; ok {
		return true
	}
	for _, suffix := range s.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
