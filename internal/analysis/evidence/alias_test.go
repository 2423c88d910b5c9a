package evidence

import "testing"

func TestAliasIssueAndIdempotency(t *testing.T) {
	r := NewRegistry()
	a1 := r.Alias("3624100512345")
	a2 := r.Alias("3624100599999")
	again := r.Alias("3624100512345")

	if a1 != "c1" || a2 != "c2" {
		t.Fatalf("unexpected aliases: %s %s", a1, a2)
	}
	if again != a1 {
		t.Fatalf("alias not idempotent: %s vs %s", again, a1)
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d", r.Len())
	}
}

func TestResolveRoundTrip(t *testing.T) {
	r := NewRegistry()
	a := r.Alias("real-1")
	b := r.Alias("real-2")

	resolved, unresolved := r.Resolve([]string{a, b})
	if len(unresolved) != 0 {
		t.Fatalf("unexpected unresolved: %v", unresolved)
	}
	if len(resolved) != 2 || resolved[0] != "real-1" || resolved[1] != "real-2" {
		t.Fatalf("resolved = %v", resolved)
	}
}

func TestResolveUnknownAliasReported(t *testing.T) {
	r := NewRegistry()
	r.Alias("real-1")

	resolved, unresolved := r.Resolve([]string{"c1", "c99"})
	if len(resolved) != 1 || resolved[0] != "real-1" {
		t.Fatalf("resolved = %v", resolved)
	}
	if len(unresolved) != 1 || unresolved[0] != "c99" {
		t.Fatalf("unresolved = %v", unresolved)
	}
}

func TestResolvePassesThroughRealIDs(t *testing.T) {
	r := NewRegistry()
	resolved, unresolved := r.Resolve([]string{"3624100512345"})
	if len(unresolved) != 0 {
		t.Fatalf("real id treated as unresolved: %v", unresolved)
	}
	if len(resolved) != 1 || resolved[0] != "3624100512345" {
		t.Fatalf("resolved = %v", resolved)
	}
}

func TestIsAliasShaped(t *testing.T) {
	cases := map[string]bool{
		"c1":        true,
		"c99":       true,
		"c":         false,
		"comment-1": false,
		"C1":        false,
		"c1x":       false,
	}
	for id, want := range cases {
		if got := IsAliasShaped(id); got != want {
			t.Fatalf("IsAliasShaped(%q) = %v, want %v", id, got, want)
		}
	}
}
