package ssh2

// Host pattern matching for the server's allow/deny lists. A pattern
// may contain '*', matching any run of characters, and '?', matching
// exactly one. Host names compare case-insensitively.

func matchPattern(pattern, name string) bool {
	return matchLower(lower(pattern), lower(name))
}

func matchLower(pattern, name string) bool {
	for {
		// If at the end of the pattern, it matches only if the name
		// is exhausted too.
		if len(pattern) == 0 {
			return len(name) == 0
		}

		if pattern[0] == '*' {
			// Skip runs of asterisks.
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchLower(pattern, name[i:]) {
					return true
				}
			}
			return false
		}

		if len(name) == 0 {
			return false
		}
		if pattern[0] != '?' && pattern[0] != name[0] {
			return false
		}
		pattern = pattern[1:]
		name = name[1:]
	}
}

func matchPatternList(patterns []string, name string) bool {
	for _, p := range patterns {
		if matchPattern(p, name) {
			return true
		}
	}
	return false
}

func lower(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}
