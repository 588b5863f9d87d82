package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/airnode/examples"
)

// clearUmask sets the process umask to 0 so permission assertions are
// deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_WritesExample(t *testing.T) {
	clearUmask(t)
	dir := filepath.Join(t.TempDir(), "etc")
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	path := filepath.Join(dir, "airnode.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("airnode.yaml not created: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("airnode.yaml permissions = %o, want 0600", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, examples.ConfigYAML) {
		t.Error("airnode.yaml does not match the embedded example")
	}
	if !strings.Contains(buf.String(), "wrote "+path) {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRunInit_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "airnode.yaml")
	if err := os.WriteFile(path, []byte("wifi: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "wifi: {}\n" {
		t.Errorf("existing config overwritten: %q", data)
	}
	if !strings.Contains(buf.String(), "already exists") {
		t.Errorf("output = %q", buf.String())
	}
}
