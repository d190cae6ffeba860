package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, `
self: a
listen: ":9001"
masters: [a, b, c]
replicas: [d]
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.W != 2 {
		t.Fatalf("W = %d, want default majority 2", c.W)
	}
	if c.LeaseExpireInterval() <= 0 || c.LockExpireInterval() <= 0 || c.PushTransInterval() <= 0 {
		t.Fatal("expected non-zero default intervals")
	}
}

func TestLoadRejectsWOutOfRange(t *testing.T) {
	path := writeTemp(t, `
self: a
listen: ":9001"
masters: [a, b]
w: 5
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject W greater than len(masters)")
	}
}

func TestLoadRejectsMissingSelf(t *testing.T) {
	path := writeTemp(t, `
listen: ":9001"
masters: [a]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a config with no self")
	}
}
