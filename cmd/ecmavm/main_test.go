package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chazu/ecmavm/asm"
	"github.com/chazu/ecmavm/manifest"
)

func TestRunProgram(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		opts   runOptions
		status int
		want   string
	}{
		{
			name: "prints the completion value",
			src: `
.registers 1
	PUSH "done"
	POP_BLOCK
`,
			want: "done\n",
		},
		{
			name: "print output",
			src: `
	PUSH print
	PUSH "hi"
	CALL 1
`,
			want: "hi\n",
		},
		{
			name: "uncaught exception",
			src: `
	PUSH missing
	POP
`,
			status: 1,
			want:   "Uncaught ReferenceError: missing is not defined\n",
		},
		{
			name: "eval takes assembly",
			src: `
.registers 1
	PUSH eval
	PUSH ".registers 1\nPUSH \"inner\"\nPOP_BLOCK"
	CALL_BLOCK 1
`,
			want: "inner\n",
		},
		{
			name: "module completion is not printed",
			src: `
.registers 1
	PUSH "hidden"
	POP_BLOCK
`,
			opts: runOptions{module: true},
			want: "",
		},
		{
			name: "timeout aborts",
			src: `
top:
	NOP
	JUMP_BACKWARD top
`,
			opts:   runOptions{timeout: 20 * time.Millisecond},
			status: 1,
			want:   "Uncaught context deadline exceeded\n",
		},
		{
			name: "timeout aborts a queued job",
			src: `
.func spin
.params 1
top:
	NOP
	JUMP_BACKWARD top
.end
	PUSH Promise
	PROP_REFERENCE "resolve"
	PUSH 1
	CALL_PROP_PUSH 1
	PROP_REFERENCE "then"
	PUSH $spin
	CALL_PROP 1
`,
			opts:   runOptions{timeout: 20 * time.Millisecond},
			status: 1,
			want:   "Uncaught context deadline exceeded\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := asm.ParseString(tt.src, t.Name())
			if err != nil {
				t.Fatalf("assemble: %v", err)
			}
			opts := tt.opts
			opts.config = &manifest.Manifest{}
			var out bytes.Buffer
			status, err := runProgram(code, opts, &out)
			if err != nil {
				t.Fatalf("runProgram: %v", err)
			}
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestAssembleAndLoad(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prog.easm")
	program := `
.func twice
.params 1
	PUSH r0
	PUSH r0
	ADD
	RETURN
.end
.registers 1
	PUSH $twice
	PUSH 21
	CALL_BLOCK 1
`
	if err := os.WriteFile(src, []byte(program), 0o644); err != nil {
		t.Fatal(err)
	}
	if status := handleAsmCommand([]string{src}); status != 0 {
		t.Fatalf("asm status = %d", status)
	}
	snap := filepath.Join(dir, "prog.snap")
	if _, err := os.Stat(snap); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	for _, path := range []string{src, snap} {
		code, err := loadProgram(path)
		if err != nil {
			t.Fatalf("loadProgram(%s): %v", filepath.Base(path), err)
		}
		var out bytes.Buffer
		if _, err := runProgram(code, runOptions{config: &manifest.Manifest{}}, &out); err != nil {
			t.Fatalf("runProgram: %v", err)
		}
		if out.String() != "42\n" {
			t.Errorf("%s printed %q", filepath.Base(path), out.String())
		}

		var listing bytes.Buffer
		disassemble(&listing, code)
		if !strings.Contains(listing.String(), "; twice") {
			t.Errorf("%s listing lacks the nested unit:\n%s", filepath.Base(path), listing.String())
		}
	}
}

func TestLoadProgramErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.easm")
	if err := os.WriteFile(bad, []byte("NOT_AN_OPCODE\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadProgram(bad); err == nil {
		t.Error("expected an assembly error")
	}
	if _, err := loadProgram(filepath.Join(dir, "missing.snap")); err == nil {
		t.Error("expected an error for a missing snapshot")
	}
}
