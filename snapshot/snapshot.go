// Package snapshot serializes compiled code trees. A snapshot is a canonical
// CBOR document holding every code unit reachable from a root, flattened in
// post-order so that function literals always refer to earlier units.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/ecmavm/vm"
)

var log = commonlog.GetLogger("ecmavm.snapshot")

// Magic identifies snapshot documents.
const Magic = "ecmavm"

// Version is the format version written by this package.
const Version = 1

var (
	// ErrBadSnapshot is wrapped by every structural decoding failure.
	ErrBadSnapshot = errors.New("snapshot: malformed snapshot")
	// ErrVersion reports a snapshot written by an incompatible format version.
	ErrVersion = errors.New("snapshot: unsupported version")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type document struct {
	Magic   string     `cbor:"1,keyasint"`
	Version int        `cbor:"2,keyasint"`
	ID      [16]byte   `cbor:"3,keyasint"`
	Units   []wireUnit `cbor:"4,keyasint"` // post-order; the root is last
}

type wireUnit struct {
	Name            string        `cbor:"1,keyasint,omitempty"`
	Source          string        `cbor:"2,keyasint,omitempty"`
	Flags           uint16        `cbor:"3,keyasint"`
	ArgumentEnd     int           `cbor:"4,keyasint"`
	RegisterEnd     int           `cbor:"5,keyasint"`
	IdentEnd        int           `cbor:"6,keyasint"`
	ConstLiteralEnd int           `cbor:"7,keyasint"`
	LiteralEnd      int           `cbor:"8,keyasint"`
	StackLimit      int           `cbor:"9,keyasint"`
	Literals        []wireLiteral `cbor:"10,keyasint,omitempty"`
	Bytecode        []byte        `cbor:"11,keyasint"`
	Lines           []wireLine    `cbor:"12,keyasint,omitempty"`
}

type wireLiteral struct {
	Kind  uint8   `cbor:"1,keyasint"`
	Str   string  `cbor:"2,keyasint,omitempty"`
	Num   float64 `cbor:"3,keyasint,omitempty"`
	Flags string  `cbor:"4,keyasint,omitempty"`
	Func  int     `cbor:"5,keyasint,omitempty"` // unit index + 1
}

type wireLine struct {
	Offset int `cbor:"1,keyasint"`
	Line   int `cbor:"2,keyasint"`
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// Snapshot is a code tree with the build identity it was written under.
type Snapshot struct {
	ID   uuid.UUID
	Code *vm.Code
}

// New wraps code in a snapshot with a fresh build ID.
func New(code *vm.Code) *Snapshot {
	return &Snapshot{ID: uuid.New(), Code: code}
}

// Units returns the number of code units in the snapshot's tree.
func (s *Snapshot) Units() int {
	seen := make(map[*vm.Code]bool)
	var walk func(c *vm.Code)
	walk = func(c *vm.Code) {
		if seen[c] {
			return
		}
		seen[c] = true
		for i := range c.Literals {
			if f := c.Literals[i].Func; f != nil {
				walk(f)
			}
		}
	}
	walk(s.Code)
	return len(seen)
}

// Marshal encodes s. Equal trees with equal IDs encode to identical bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	doc, err := flatten(s)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(doc)
}

// Unmarshal decodes and validates a snapshot.
func Unmarshal(data []byte) (*Snapshot, error) {
	var doc document
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return rebuild(&doc)
}

// Write encodes s to w.
func Write(w io.Writer, s *Snapshot) error {
	doc, err := flatten(s)
	if err != nil {
		return err
	}
	return encMode.NewEncoder(w).Encode(doc)
}

// Read decodes one snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	var doc document
	if err := decMode.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return rebuild(&doc)
}

// WriteFile writes s to path.
func WriteFile(path string, s *Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: writing %s: %w", path, err)
	}
	log.Debugf("wrote snapshot %s to %s (%d bytes)", s.ID, path, len(data))
	return nil
}

// ReadFile reads the snapshot stored at path.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading %s: %w", path, err)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("read snapshot %s from %s", s.ID, path)
	return s, nil
}

// ---------------------------------------------------------------------------
// Flattening
// ---------------------------------------------------------------------------

func flatten(s *Snapshot) (*document, error) {
	if s == nil || s.Code == nil {
		return nil, errors.New("snapshot: no code")
	}
	doc := &document{Magic: Magic, Version: Version, ID: s.ID}
	index := make(map[*vm.Code]int)
	visiting := make(map[*vm.Code]bool)

	var visit func(c *vm.Code) (int, error)
	visit = func(c *vm.Code) (int, error) {
		if i, ok := index[c]; ok {
			return i, nil
		}
		if visiting[c] {
			return 0, fmt.Errorf("snapshot: %s refers to itself", c.Name)
		}
		visiting[c] = true
		u := wireUnit{
			Name:            c.Name,
			Source:          c.Source,
			Flags:           uint16(c.Flags),
			ArgumentEnd:     c.ArgumentEnd,
			RegisterEnd:     c.RegisterEnd,
			IdentEnd:        c.IdentEnd,
			ConstLiteralEnd: c.ConstLiteralEnd,
			LiteralEnd:      c.LiteralEnd,
			StackLimit:      c.StackLimit,
			Bytecode:        c.Bytecode,
		}
		for _, lit := range c.Literals {
			wl := wireLiteral{Kind: uint8(lit.Kind), Str: lit.Str, Num: lit.Num, Flags: lit.Flags}
			if lit.Kind == vm.LiteralFunction {
				if lit.Func == nil {
					return 0, fmt.Errorf("snapshot: %s: function literal without code", c.Name)
				}
				i, err := visit(lit.Func)
				if err != nil {
					return 0, err
				}
				wl.Func = i + 1
			}
			u.Literals = append(u.Literals, wl)
		}
		for _, l := range c.Lines {
			u.Lines = append(u.Lines, wireLine{Offset: l.Offset, Line: l.Line})
		}
		delete(visiting, c)
		index[c] = len(doc.Units)
		doc.Units = append(doc.Units, u)
		return index[c], nil
	}
	if _, err := visit(s.Code); err != nil {
		return nil, err
	}
	return doc, nil
}

func rebuild(doc *document) (*Snapshot, error) {
	if doc.Magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadSnapshot, doc.Magic)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrVersion, doc.Version, Version)
	}
	if len(doc.Units) == 0 {
		return nil, fmt.Errorf("%w: no code units", ErrBadSnapshot)
	}
	codes := make([]*vm.Code, len(doc.Units))
	for i, u := range doc.Units {
		c := &vm.Code{
			Name:            u.Name,
			Source:          u.Source,
			Flags:           vm.CodeFlags(u.Flags),
			ArgumentEnd:     u.ArgumentEnd,
			RegisterEnd:     u.RegisterEnd,
			IdentEnd:        u.IdentEnd,
			ConstLiteralEnd: u.ConstLiteralEnd,
			LiteralEnd:      u.LiteralEnd,
			StackLimit:      u.StackLimit,
			Bytecode:        u.Bytecode,
		}
		for _, wl := range u.Literals {
			lit := vm.Literal{Kind: vm.LiteralKind(wl.Kind), Str: wl.Str, Num: wl.Num, Flags: wl.Flags}
			if lit.Kind == vm.LiteralFunction {
				// Post-order: a unit only refers to units before it.
				if wl.Func < 1 || wl.Func > i {
					return nil, fmt.Errorf("%w: unit %d refers to unit %d", ErrBadSnapshot, i, wl.Func-1)
				}
				lit.Func = codes[wl.Func-1]
			}
			c.Literals = append(c.Literals, lit)
		}
		for _, l := range u.Lines {
			c.Lines = append(c.Lines, vm.LineEntry{Offset: l.Offset, Line: l.Line})
		}
		codes[i] = c
	}
	root := codes[len(codes)-1]
	if err := root.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return &Snapshot{ID: uuid.UUID(doc.ID), Code: root}, nil
}
