package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"gopkg.in/yaml.v3"
)

// Range is a half open range of linear addresses.
type Range struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

func (r Range) inImage() bool {
	return r.Start >= 0 && r.End <= bankaddr.TotalSize && r.Start <= r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[0x%x, 0x%x)", r.Start, r.End)
}

func (r Range) addressRange() bankaddr.AddressRange {
	return bankaddr.AddressRange{Start: r.Start, End: r.End}
}

type Address struct {
	Bank   int `yaml:"bank"`
	Offset int `yaml:"offset"`
}

// Part is one source of bytes. Exactly one field is set.
type Part struct {
	Data string `yaml:"data,omitempty"` // hex, whitespace ignored
	File string `yaml:"file,omitempty"` // relative to the layout file
	Ref  string `yaml:"ref,omitempty"`  // banked pointer to another id
}

type Segment struct {
	ID    string `yaml:"id"`
	Part  `yaml:",inline"`
	Parts []Part `yaml:"parts,omitempty"`
}

type Block struct {
	ID       string `yaml:"id"`
	Part     `yaml:",inline"`
	Parts    []Part    `yaml:"parts,omitempty"`
	Segments []Segment `yaml:"segments,omitempty"`

	Banks   []int    `yaml:"banks,omitempty"`
	Address *Address `yaml:"address,omitempty"`
	Limit   string   `yaml:"limit,omitempty"`
	// Reuse lists ranges a segmented block may write over even if something else wrote them first.
	Reuse []Range `yaml:"reuse,omitempty"`
}

type Output struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress,omitempty"`
}

// Layout is the description of an image read from YAML.
type Layout struct {
	Filler   *int     `yaml:"filler,omitempty"`
	Base     string   `yaml:"base,omitempty"`
	Blank    []Range  `yaml:"blank,omitempty"`
	Outputs  []Output `yaml:"outputs,omitempty"`
	Manifest string   `yaml:"manifest,omitempty"`
	Blocks   []Block  `yaml:"blocks"`

	// Dir is where relative paths are resolved from.
	Dir string `yaml:"-"`
}

func Load(path string) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	l, err := Parse(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return l, nil
}

func Parse(r io.Reader, dir string) (*Layout, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out Layout
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	out.Dir = dir
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (l *Layout) Validate() error {
	if l.Filler != nil && (*l.Filler < 0 || *l.Filler > 0xFF) {
		return fmt.Errorf("filler 0x%x is not a byte", *l.Filler)
	}
	for _, r := range l.Blank {
		if !r.inImage() {
			return fmt.Errorf("blank range %v is not inside the image", r)
		}
	}
	for _, o := range l.Outputs {
		if o.Path == "" {
			return fmt.Errorf("output without a path")
		}
	}
	for i, b := range l.Blocks {
		if b.ID == "" {
			return fmt.Errorf("block %d has no id", i)
		}
		if err := b.validate(); err != nil {
			return fmt.Errorf("block %q: %w", b.ID, err)
		}
	}
	return l.validateRefs()
}

// validateRefs checks that every ref names a block or segment of the layout.
func (l *Layout) validateRefs() error {
	ids := make(map[string]struct{})
	for _, b := range l.Blocks {
		ids[b.ID] = struct{}{}
		for _, s := range b.Segments {
			ids[s.ID] = struct{}{}
		}
	}
	check := func(single Part, parts []Part) error {
		for _, p := range append([]Part{single}, parts...) {
			if p.Ref == "" {
				continue
			}
			if _, ok := ids[p.Ref]; !ok {
				return fmt.Errorf("unknown reference %q", p.Ref)
			}
		}
		return nil
	}
	for _, b := range l.Blocks {
		if err := check(b.Part, b.Parts); err != nil {
			return fmt.Errorf("block %q: %w", b.ID, err)
		}
		for _, s := range b.Segments {
			if err := check(s.Part, s.Parts); err != nil {
				return fmt.Errorf("block %q segment %q: %w", b.ID, s.ID, err)
			}
		}
	}
	return nil
}

func (b *Block) validate() error {
	if _, err := ParseLimit(b.Limit); err != nil {
		return err
	}
	if b.Address != nil && len(b.Banks) > 0 {
		return fmt.Errorf("address and banks are exclusive")
	}
	if len(b.Reuse) > 0 && len(b.Segments) == 0 {
		return fmt.Errorf("reuse is only supported on segmented blocks")
	}
	for _, r := range b.Reuse {
		if !r.inImage() {
			return fmt.Errorf("reuse range %v is not inside the image", r)
		}
	}
	if len(b.Segments) > 0 {
		if b.Part.count() > 0 || len(b.Parts) > 0 {
			return fmt.Errorf("segmented blocks take their bytes from their segments")
		}
		for i, s := range b.Segments {
			if s.ID == "" {
				return fmt.Errorf("segment %d has no id", i)
			}
			if err := validateSources(s.Part, s.Parts); err != nil {
				return fmt.Errorf("segment %q: %w", s.ID, err)
			}
		}
		return nil
	}
	return validateSources(b.Part, b.Parts)
}

func validateSources(single Part, parts []Part) error {
	if single.count() > 1 {
		return fmt.Errorf("only one of data, file and ref may be set")
	}
	if single.count() == 1 && len(parts) > 0 {
		return fmt.Errorf("parts cannot be combined with data, file or ref")
	}
	for i, p := range parts {
		if p.count() != 1 {
			return fmt.Errorf("part %d must set exactly one of data, file and ref", i)
		}
	}
	return nil
}

func (p Part) count() int {
	n := 0
	for _, s := range []string{p.Data, p.File, p.Ref} {
		if s != "" {
			n++
		}
	}
	return n
}

// ParseLimit reads a bank boundary policy, the empty string is the default policy.
func ParseLimit(s string) (bankaddr.LimitType, error) {
	switch strings.ToLower(s) {
	case "", "within_bank_or_start_of_next":
		return bankaddr.WithinBankOrStartOfNext, nil
	case "within_bank":
		return bankaddr.WithinBank, nil
	case "in_valid_ranges":
		return bankaddr.InValidRanges, nil
	}
	return 0, fmt.Errorf("unknown limit %q", s)
}

// DecodeHex decodes hex bytes, ignoring whitespace.
func DecodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}

func (l *Layout) resolve(path string) string {
	if filepath.IsAbs(path) || l.Dir == "" {
		return path
	}
	return filepath.Join(l.Dir, path)
}
