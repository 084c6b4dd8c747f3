package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/camppoia/leozera/internal/reminders"
)

// clearUmask sets the process umask to 0 so file permission assertions
// are deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Leozera ") || !strings.Contains(out.String(), "go_version:") {
		t.Errorf("version output = %q", out.String())
	}

	out.Reset()
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("json version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("decode json version: %v", err)
	}
	if info["version"] == "" {
		t.Errorf("json version = %v", info)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"dance"}, "unknown command"},
		{"unknown flag", []string{"-x"}, "unknown flag"},
		{"bad output", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"explicit env missing", []string{"-env", "/nonexistent/.env", "confirm", "x"}, "load env file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), &out, &out, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run(%v) = %v, want error containing %q", tt.args, err, tt.want)
			}
		})
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, &out, args); err != nil {
			t.Fatalf("run(%v): %v", args, err)
		}
		if !strings.Contains(out.String(), "confirm <id>") {
			t.Errorf("usage = %q", out.String())
		}
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	// No .env in the working directory is fine.
	if err := loadEnv(""); err != nil {
		t.Fatalf("loadEnv without .env: %v", err)
	}
	if err := loadEnv(filepath.Join(dir, "missing.env")); err == nil {
		t.Error("explicit missing env file accepted")
	}

	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("LEOZERA_TEST_TOKEN=abc123\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEOZERA_TEST_TOKEN", "")
	os.Unsetenv("LEOZERA_TEST_TOKEN")
	if err := loadEnv(path); err != nil {
		t.Fatalf("loadEnv: %v", err)
	}
	if got := os.Getenv("LEOZERA_TEST_TOKEN"); got != "abc123" {
		t.Errorf("LEOZERA_TEST_TOKEN = %q", got)
	}
}

func TestRunInit(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	perms := map[string]os.FileMode{
		"config.yaml": 0o600,
		".env":        0o600,
		filepath.Join("knowledge", "material_de_apoio.md"): 0o644,
	}
	for name, want := range perms {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("%s not created: %v", name, err)
			continue
		}
		if got := info.Mode().Perm(); got != want {
			t.Errorf("%s permissions = %o, want %o", name, got, want)
		}
	}
	if info, err := os.Stat(filepath.Join(dir, "db")); err != nil || !info.IsDir() {
		t.Errorf("db directory missing: %v", err)
	}

	// A second run keeps user edits.
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("custom: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("second runInit: %v", err)
	}
	data, _ := os.ReadFile(cfgPath)
	if string(data) != "custom: true\n" {
		t.Errorf("config.yaml overwritten: %q", data)
	}
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := `
data_dir: ` + dir + `
database:
  driver: sqlite
timezone: America/Sao_Paulo
whatsapp:
  provider: waha
  waha:
    base_url: http://127.0.0.1:1
log_level: error
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunSweep_EmptyDatabase(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-config", cfgPath, "-env", filepath.Join(dir, "none.env"), "sweep"})
	if err == nil || !strings.Contains(err.Error(), "load env file") {
		t.Fatalf("sweep with missing explicit env = %v", err)
	}

	out.Reset()
	t.Chdir(dir)
	if err := run(context.Background(), &out, &out, []string{"-config", cfgPath, "-o", "json", "sweep"}); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var runs []struct {
		Job    string `json:"job"`
		Status string `json:"status"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(out.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v\n%s", err, out.String())
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	for _, r := range runs {
		if r.Status != "completed" || !strings.HasPrefix(r.Result, "scanned=0 sent=0") {
			t.Errorf("run %s = %s %q", r.Job, r.Status, r.Result)
		}
	}
}

func TestRunConfirm_NotFound(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	t.Chdir(dir)

	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-config", cfgPath, "confirm", "nope"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("confirm unknown = %v", err)
	}
}

func TestFormatReport(t *testing.T) {
	got := formatReport(reminders.SweepReport{Scanned: 4, Sent: 2, Skipped: 1, Failed: 1})
	if got != "scanned=4 sent=2 downgraded=0 skipped=1 failed=1" {
		t.Errorf("formatReport = %q", got)
	}
}
