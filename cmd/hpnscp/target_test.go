package main

import "testing"

func TestParseTarget(t *testing.T) {
	cases := []struct {
		in   string
		want target
	}{
		{"file.txt", target{path: "file.txt"}},
		{"./a:b", target{path: "./a:b"}},
		{"dir/sub:colon", target{path: "dir/sub:colon"}},
		{"host:", target{host: "host", path: ".", remote: true}},
		{"host:file", target{host: "host", path: "file", remote: true}},
		{"user@host:dir/file", target{user: "user", host: "host", path: "dir/file", remote: true}},
		{"[::1]:file", target{host: "::1", path: "file", remote: true}},
		{"u@[fe80::2]:x", target{user: "u", host: "fe80::2", path: "x", remote: true}},
		{"quic://peer:9000/data/file", target{scheme: "quic", host: "peer:9000", path: "data/file", remote: true}},
		{"ws://peer:8080/", target{scheme: "ws", host: "peer:8080", path: ".", remote: true}},
	}
	for _, tc := range cases {
		got := parseTarget(tc.in)
		if got != tc.want {
			t.Errorf("parseTarget(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestParseTarget_AtWithoutColonIsLocal(t *testing.T) {
	got := parseTarget("user@file")
	if got.remote || got.path != "user@file" {
		t.Fatalf("parseTarget(user@file) = %+v", got)
	}
}
