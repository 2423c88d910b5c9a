package services

import "testing"

func TestNormalizeThreadURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.threads.net/@user/post/C123", "https://www.threads.net/@user/post/C123"},
		{"https://threads.net/@user/post/C123", "https://www.threads.net/@user/post/C123"},
		{"https://www.threads.com/@user/post/C123", "https://www.threads.net/@user/post/C123"},
		{"http://threads.com/@user/post/C123", "https://www.threads.net/@user/post/C123"},
		{"threads.net/@user/post/C123", "https://www.threads.net/@user/post/C123"},
		{"  https://www.threads.net/@user/post/C123/  ", "https://www.threads.net/@user/post/C123"},
		{"https://www.threads.net/@user/post/C123?igshid=abc#top", "https://www.threads.net/@user/post/C123"},
	}
	for _, tc := range cases {
		got, err := NormalizeThreadURL(tc.in)
		if err != nil {
			t.Fatalf("NormalizeThreadURL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeThreadURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeThreadURLRejects(t *testing.T) {
	bad := []string{
		"",
		"https://twitter.com/@user/status/1",
		"https://www.threads.net",
		"https://www.threads.net/",
		"https://instagram.com/p/C123",
	}
	for _, in := range bad {
		if got, err := NormalizeThreadURL(in); err == nil {
			t.Fatalf("NormalizeThreadURL(%q) = %q, want error", in, got)
		}
	}
}
