package redirect

import "strings"

// NormalizePaths splits a raw redirect field value on whitespace and reduces
// every entry to a bare source path: no scheme, host, query or fragment, and
// no leading or trailing slash. Empty entries and duplicates are dropped;
// first-seen order is kept.
func NormalizePaths(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		path := NormalizePath(field)
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizePath reduces a single URL or path to its source path form. The
// path is kept exactly as written (no percent-decoding).
func NormalizePath(token string) string {
	path := strings.TrimSpace(token)
	for {
		next := strings.Trim(stripAuthority(cutQueryAndFragment(path)), "/")
		if next == path {
			return path
		}
		path = next
	}
}

// NormalizeTargetPath strips the "./" prefix the URI builder emits for relative paths.
func NormalizeTargetPath(targetPath string) string {
	return strings.TrimPrefix(strings.TrimSpace(targetPath), "./")
}

func samePath(a, b string) bool {
	return strings.Trim(a, "/") == strings.Trim(b, "/")
}

func cutQueryAndFragment(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

func stripAuthority(s string) string {
	rest, ok := "", false
	if i := strings.Index(s, "://"); i > 0 && isScheme(s[:i]) {
		rest, ok = s[i+3:], true
	} else if strings.HasPrefix(s, "//") {
		rest, ok = s[2:], true
	}
	if !ok {
		return s
	}
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return rest[j:]
	}
	return ""
}

func isScheme(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return s != ""
}
