package resource

import (
	"strings"
)

// Rule rewrites identifiers that start with From so that they start with
// To instead. Rules map runtime URLs (http://localhost:8080/js/) and
// remote paths to the workspace paths the client uses.
type Rule struct {
	From string
	To   string
}

// Rules is an ordered list of substitution rules; the first match wins.
type Rules []Rule

// Apply applies rules to id and reparses the result with p.
func (rules Rules) Apply(id Identifier, p Parser) Identifier {
	if len(rules) == 0 || id.IsEmpty() {
		return id
	}
	out := SubstitutePath(id.display, rules, p.CaseInsensitive)
	if out == id.display {
		return id
	}
	return p.Parse(out)
}

// SubstitutePath applies the specified path substitution rules to path.
// URL prefixes are always matched exactly; local prefixes are matched
// case-insensitively when caseInsensitive is set.
func SubstitutePath(path string, rules Rules, caseInsensitive bool) string {
	separator := "/"
	if strings.Contains(path, "\\") {
		separator = "\\"
	}
	for _, r := range rules {
		from, to := r.From, r.To
		if from == "" {
			// Relative paths are rooted at To, absolute ones left alone.
			if to != "" && !isAbs(path) {
				if !strings.HasSuffix(to, separator) {
					to += separator
				}
				return to + path
			}
			continue
		}
		if !strings.HasSuffix(from, separator) && !strings.HasSuffix(from, "/") {
			from += separator
		}
		if to != "" && !strings.HasSuffix(to, separator) && !strings.HasSuffix(to, "/") {
			to += separator
		}
		if hasPrefix(path, from, caseInsensitive && !isURL(from)) {
			return to + path[len(from):]
		}
	}
	return path
}

func hasPrefix(s, prefix string, fold bool) bool {
	if len(s) < len(prefix) {
		return false
	}
	if fold {
		return strings.EqualFold(s[:len(prefix)], prefix)
	}
	return s[:len(prefix)] == prefix
}

func isAbs(p string) bool {
	return strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") || hasDriveLetter(p) || isURL(p)
}
