package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[engine]
max-call-depth = 200
max-frame-slots = 4096
halt-frequency = 16
arena-size = 1024
check-invariants = true
trace = true

[log]
verbosity = 2
file = "vm.log"

[debugger]
enabled = true
stop-on-exception = true
breakpoints = ["main.easm:3", "lib/util.easm:10"]

[run]
entry = "main.snap"
module = true
timeout = "1.5s"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Engine.MaxCallDepth != 200 {
		t.Errorf("max-call-depth = %d, want 200", m.Engine.MaxCallDepth)
	}
	if !m.Engine.CheckInvariants || !m.Engine.Trace {
		t.Error("engine flags not loaded")
	}
	if m.Log.Verbosity != 2 || m.Log.File != "vm.log" {
		t.Errorf("log = %+v", m.Log)
	}
	if !m.Run.Module {
		t.Error("run module = false, want true")
	}
	if got := m.EntryPath(); got != filepath.Join(m.Dir, "main.snap") {
		t.Errorf("entry path = %q", got)
	}
	d, err := m.Timeout()
	if err != nil || d != 1500*time.Millisecond {
		t.Errorf("timeout = %v, %v", d, err)
	}
	bps, err := m.Breakpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(bps) != 2 || bps[1] != (Breakpoint{Source: "lib/util.easm", Line: 10}) {
		t.Errorf("breakpoints = %+v", bps)
	}
}

func TestEngineConfig(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[engine]
max-call-depth = 50
halt-frequency = 8
arena-size = 256

[debugger]
enabled = true
breakpoints = ["a.easm:1"]
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg := m.EngineConfig(nil)
	if cfg.MaxDepth != 50 || cfg.HaltFrequency != 8 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Allocator == nil {
		t.Error("arena-size did not install an allocator")
	}
	if cfg.Debugger == nil {
		t.Error("debugger enabled but not configured")
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[run]
entry = "/abs/prog.snap"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.EntryPath() != "/abs/prog.snap" {
		t.Errorf("entry path = %q", m.EntryPath())
	}
	if d, _ := m.Timeout(); d != 0 {
		t.Errorf("timeout = %v, want 0", d)
	}
	if m.DebugServer() != nil {
		t.Error("debugger disabled but a server was built")
	}
	cfg := m.EngineConfig(nil)
	if cfg.Allocator != nil || cfg.Debugger != nil || cfg.MaxDepth != 0 {
		t.Errorf("config = %+v", cfg)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[engine\n", "parse error"},
		{"timeout", "[run]\ntimeout = \"soon\"", "bad run timeout"},
		{"breakpoint", "[debugger]\nbreakpoints = [\"main.easm\"]", "bad breakpoint"},
		{"breakpoint line", "[debugger]\nbreakpoints = [\"main.easm:0\"]", "bad breakpoint"},
		{"negative", "[engine]\nmax-call-depth = -1", "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for missing manifest")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[engine]\ntrace = true\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("manifest not found")
	}
	if !m.Engine.Trace {
		t.Error("loaded the wrong manifest")
	}
	abs, _ := filepath.Abs(root)
	if m.Dir != abs {
		t.Errorf("dir = %q, want %q", m.Dir, abs)
	}
}
