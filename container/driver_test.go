package container

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteWritableRootfsConfig(t *testing.T) {
	dir := t.TempDir()
	if err := writeWritableRootfsConfig(dir, "/some/rootfs", []string{"/bin/sh", "-c", "true"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	contents, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("reading rendered config: %v", err)
	}

	for _, want := range []string{`"/some/rootfs"`, `"/bin/sh"`, `"-c"`} {
		if !strings.Contains(string(contents), want) {
			t.Errorf("expected rendered config to contain %q, got:\n%s", want, contents)
		}
	}
}

func TestWriteOverlayRootfsConfig(t *testing.T) {
	dir := t.TempDir()
	err := writeOverlayRootfsConfig(dir, "/built/rootfs", "/test/upper", "/test/work", []string{"./a.out"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	contents, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("reading rendered config: %v", err)
	}

	for _, want := range []string{"lowerdir=/built/rootfs", "upperdir=/test/upper", "workdir=/test/work", `"./a.out"`} {
		if !strings.Contains(string(contents), want) {
			t.Errorf("expected rendered config to contain %q, got:\n%s", want, contents)
		}
	}
}

func TestLooksLikeRuncStartFailure(t *testing.T) {
	code := 1
	zero := 0

	cases := []struct {
		name     string
		stderr   string
		exitCode *int
		want     bool
	}{
		{"matching single line", "runc run failed: unable to start container process", &code, true},
		{"zero exit code never counts", "runc run failed: x", &zero, false},
		{"multi line stderr does not count", "runc run failed: x\nsome other line", &code, false},
		{"unrelated message", "some other failure", &code, false},
		{"nil exit code", "runc run failed: x", nil, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := looksLikeRuncStartFailure(c.stderr, c.exitCode); got != c.want {
				t.Errorf("looksLikeRuncStartFailure(%q, %v) = %v, want %v", c.stderr, c.exitCode, got, c.want)
			}
		})
	}
}

func TestBuiltSuccess(t *testing.T) {
	zero := 0
	one := 1
	sig := 6

	if !(&BuiltContainer{exitCode: &zero}).Success() {
		t.Errorf("expected Success() true for exit code 0")
	}
	if (&BuiltContainer{exitCode: &one}).Success() {
		t.Errorf("expected Success() false for exit code 1")
	}
	if (&BuiltContainer{exitCode: &zero, signal: &sig}).Success() {
		t.Errorf("expected Success() false when killed by signal even with exit code 0")
	}
}

func TestLastLine(t *testing.T) {
	in := []byte("{\"level\":\"info\"}\n{\"level\":\"error\",\"msg\":\"container does not exist\"}\n")
	got := string(lastLine(in))
	want := `{"level":"error","msg":"container does not exist"}`
	if got != want {
		t.Errorf("lastLine() = %q, want %q", got, want)
	}
}

func TestResourceCloseIsIdempotentWhenCleanupDisarmed(t *testing.T) {
	r := &resource{workdir: t.TempDir(), doCleanup: false}
	if err := r.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("unexpected error on second Close: %v", err)
	}
}
