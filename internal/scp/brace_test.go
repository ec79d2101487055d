package scp

import (
	"sort"
	"testing"
)

func expandSorted(t *testing.T, pattern string) []string {
	t.Helper()
	got, err := braceExpand(pattern)
	if err != nil {
		t.Fatalf("braceExpand(%q): %v", pattern, err)
	}
	sort.Strings(got)
	return got
}

func TestBraceExpand_Nested(t *testing.T) {
	got := expandSorted(t, "a{b,c{d,e}}")
	want := []string{"ab", "acd", "ace"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBraceExpand_Simple(t *testing.T) {
	got := expandSorted(t, "a{b,c}d")
	if len(got) != 2 || got[0] != "abd" || got[1] != "acd" {
		t.Fatalf("got %v", got)
	}
}

func TestBraceExpand_NoBraces(t *testing.T) {
	got := expandSorted(t, "plain.txt")
	if len(got) != 1 || got[0] != "plain.txt" {
		t.Fatalf("got %v", got)
	}
}

func TestBraceExpand_KeepsFilenameComponent(t *testing.T) {
	got := expandSorted(t, "dir/{a,b}.txt")
	if len(got) != 2 || got[0] != "a.txt" || got[1] != "b.txt" {
		t.Fatalf("got %v", got)
	}
}

func TestBraceExpand_Unbalanced(t *testing.T) {
	for _, pattern := range []string{"a{", "a}b{", "x{a,{b}", "x[ab"} {
		if _, err := braceExpand(pattern); err == nil {
			t.Errorf("braceExpand(%q) accepted", pattern)
		}
	}
}

func TestBraceExpand_ProtectedEmptyBraces(t *testing.T) {
	got := expandSorted(t, "find{}me")
	if len(got) != 1 || got[0] != "find{}me" {
		t.Fatalf("got %v", got)
	}
}

func TestBraceExpand_BracketsShieldBraces(t *testing.T) {
	got := expandSorted(t, "f[{]oo")
	if len(got) != 1 || got[0] != "f[{]oo" {
		t.Fatalf("got %v", got)
	}
}

func TestMatchAny(t *testing.T) {
	pats := []string{"*.txt", "data-?"}
	if !matchAny(pats, "a.txt") || !matchAny(pats, "data-7") {
		t.Fatal("expected matches")
	}
	if matchAny(pats, "a.bin") {
		t.Fatal("unexpected match")
	}
}
