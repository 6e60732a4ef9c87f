package ssh2

import "testing"

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*", "anything.example.com", true},
		{"*.example.com", "host.example.com", true},
		{"*.example.com", "example.com", false},
		{"host?.example.com", "host1.example.com", true},
		{"host?.example.com", "host12.example.com", false},
		{"10.0.0.*", "10.0.0.7", true},
		{"10.0.0.*", "10.0.1.7", false},
		{"HOST.Example.COM", "host.example.com", true},
		{"", "", true},
		{"", "x", false},
		{"**a", "bba", true},
		{"*a*", "xyz", false},
	}
	for _, c := range cases {
		if got := matchPattern(c.pattern, c.name); got != c.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}

func TestMatchPatternList(t *testing.T) {
	patterns := []string{"*.trusted.example", "10.1.*"}
	if !matchPatternList(patterns, "a.trusted.example") {
		t.Error("list should match first pattern")
	}
	if !matchPatternList(patterns, "10.1.2.3") {
		t.Error("list should match second pattern")
	}
	if matchPatternList(patterns, "evil.example") {
		t.Error("list should not match")
	}
	if matchPatternList(nil, "whatever") {
		t.Error("empty list matches nothing")
	}
}
