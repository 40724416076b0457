package util

import (
	"strings"
	"testing"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("line longer than %d characters: %q", Wrap, line)
		}
	}
	if got := WrapString("short"); got != "short" {
		t.Errorf("WrapString(short) = %q", got)
	}
}

func TestParseShards(t *testing.T) {
	shards, err := ParseShards("1, 2,3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(shards) != 3 || shards[0] != 1 || shards[2] != 3 {
		t.Errorf("unexpected shards %v", shards)
	}

	for _, invalid := range []string{"", "a", "0", "1,1"} {
		if _, err := ParseShards(invalid); err == nil {
			t.Errorf("expected an error for %q", invalid)
		}
	}
}

func TestParseClusterMembers(t *testing.T) {
	members, err := ParseClusterMembers("node-1=localhost:63001,node-2=localhost:63002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if members[NodeID("node-1")] != "localhost:63001" || members[NodeID("node-2")] != "localhost:63002" {
		t.Errorf("unexpected members %v", members)
	}

	for _, invalid := range []string{"", "node-1", "node-1=", "a=b=c"} {
		if _, err := ParseClusterMembers(invalid); err == nil {
			t.Errorf("expected an error for %q", invalid)
		}
	}
}
