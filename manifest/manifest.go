// Package manifest handles ecmavm.toml host configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/ecmavm/vm"
)

var log = commonlog.GetLogger("ecmavm.manifest")

// FileName is the manifest looked up by Load and FindAndLoad.
const FileName = "ecmavm.toml"

// Manifest represents an ecmavm.toml configuration.
type Manifest struct {
	Engine   Engine   `toml:"engine"`
	Log      Log      `toml:"log"`
	Debugger Debugger `toml:"debugger"`
	Run      Run      `toml:"run"`

	// Dir is the directory containing the ecmavm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Engine mirrors the tunable fields of vm.Config.
type Engine struct {
	MaxCallDepth    int  `toml:"max-call-depth"`
	MaxFrameSlots   int  `toml:"max-frame-slots"`
	HaltFrequency   int  `toml:"halt-frequency"`
	ArenaSize       int  `toml:"arena-size"`
	CheckInvariants bool `toml:"check-invariants"`
	Trace           bool `toml:"trace"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Debugger configures the debug server.
type Debugger struct {
	Enabled         bool     `toml:"enabled"`
	Blocking        bool     `toml:"blocking"`
	StopOnException bool     `toml:"stop-on-exception"`
	Breakpoints     []string `toml:"breakpoints"` // "source:line"
}

// Run describes what the run command executes.
type Run struct {
	Entry   string `toml:"entry"`
	Module  bool   `toml:"module"`
	Timeout string `toml:"timeout"`
}

// Breakpoint is a parsed debugger breakpoint.
type Breakpoint struct {
	Source string
	Line   int
}

// Load parses an ecmavm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := m.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("loaded %s", path)
	return &m, nil
}

// FindAndLoad walks up from startDir to find an ecmavm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) check() error {
	if m.Engine.MaxCallDepth < 0 || m.Engine.MaxFrameSlots < 0 || m.Engine.HaltFrequency < 0 || m.Engine.ArenaSize < 0 {
		return fmt.Errorf("engine limits must not be negative")
	}
	if _, err := m.Timeout(); err != nil {
		return err
	}
	if _, err := m.Breakpoints(); err != nil {
		return err
	}
	return nil
}

// Timeout returns the run timeout, zero when unset.
func (m *Manifest) Timeout() (time.Duration, error) {
	if m.Run.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(m.Run.Timeout)
	if err != nil {
		return 0, fmt.Errorf("bad run timeout %q: %w", m.Run.Timeout, err)
	}
	return d, nil
}

// EntryPath returns the run entry resolved against the manifest directory.
func (m *Manifest) EntryPath() string {
	if m.Run.Entry == "" || filepath.IsAbs(m.Run.Entry) {
		return m.Run.Entry
	}
	return filepath.Join(m.Dir, m.Run.Entry)
}

// Breakpoints parses the configured "source:line" breakpoints.
func (m *Manifest) Breakpoints() ([]Breakpoint, error) {
	var bps []Breakpoint
	for _, s := range m.Debugger.Breakpoints {
		i := strings.LastIndexByte(s, ':')
		if i <= 0 {
			return nil, fmt.Errorf("bad breakpoint %q: want source:line", s)
		}
		line, err := strconv.Atoi(s[i+1:])
		if err != nil || line < 1 {
			return nil, fmt.Errorf("bad breakpoint %q: want source:line", s)
		}
		bps = append(bps, Breakpoint{Source: s[:i], Line: line})
	}
	return bps, nil
}

// DebugServer builds the configured debug server, or nil when the debugger
// is disabled.
func (m *Manifest) DebugServer() *vm.DebugServer {
	if !m.Debugger.Enabled {
		return nil
	}
	d := vm.NewDebugServer(m.Debugger.Blocking)
	d.SetStopOnException(m.Debugger.StopOnException)
	bps, _ := m.Breakpoints()
	for _, bp := range bps {
		d.SetBreakpoint(bp.Source, bp.Line)
	}
	return d
}

// EngineConfig returns the engine configuration for realm.
func (m *Manifest) EngineConfig(realm vm.Realm) vm.Config {
	cfg := vm.Config{
		Realm:           realm,
		MaxDepth:        m.Engine.MaxCallDepth,
		MaxFrameSlots:   m.Engine.MaxFrameSlots,
		HaltFrequency:   m.Engine.HaltFrequency,
		CheckInvariants: m.Engine.CheckInvariants,
		Trace:           m.Engine.Trace,
	}
	if m.Engine.ArenaSize > 0 {
		cfg.Allocator = vm.NewArenaAllocator(m.Engine.ArenaSize)
	}
	if d := m.DebugServer(); d != nil {
		cfg.Debugger = d
	}
	return cfg
}
