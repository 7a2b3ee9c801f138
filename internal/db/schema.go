package db

import (
	"errors"
	"fmt"
	"strconv"
)

// FieldKind enumerates the FT schema field kinds the chunk index uses.
type FieldKind int

const (
	FieldText FieldKind = iota
	FieldTag
	FieldNumeric
	FieldVector
)

// DistanceCosine is the only metric the chunk index needs; similarity is 1-distance.
const DistanceCosine = "COSINE"

// IndexField is one entry of an FT.CREATE SCHEMA clause.
type IndexField struct {
	Name string
	Kind FieldKind

	// HNSW vector options; zero values fall back to server defaults.
	Dim            int
	Distance       string
	M              int
	EFConstruction int
}

// IndexDefinition describes an FT index over hashes sharing a key prefix.
type IndexDefinition struct {
	Name   string
	Prefix string
	Fields []IndexField
}

// IndexBuilder assembles an IndexDefinition field by field.
type IndexBuilder struct {
	def IndexDefinition
}

// NewIndex starts an index definition over hashes whose keys start with prefix.
func NewIndex(name, prefix string) *IndexBuilder {
	return &IndexBuilder{def: IndexDefinition{Name: name, Prefix: prefix}}
}

func (b *IndexBuilder) add(f IndexField) *IndexBuilder {
	b.def.Fields = append(b.def.Fields, f)
	return b
}

// Text adds a full-text field.
func (b *IndexBuilder) Text(name string) *IndexBuilder {
	return b.add(IndexField{Name: name, Kind: FieldText})
}

// Tag adds an exact-match tag field.
func (b *IndexBuilder) Tag(name string) *IndexBuilder {
	return b.add(IndexField{Name: name, Kind: FieldTag})
}

// Numeric adds a numeric field.
func (b *IndexBuilder) Numeric(name string) *IndexBuilder {
	return b.add(IndexField{Name: name, Kind: FieldNumeric})
}

// HNSW adds a FLOAT32 vector field indexed with HNSW.
func (b *IndexBuilder) HNSW(name string, dim int, distance string, m, efConstruction int) *IndexBuilder {
	return b.add(IndexField{
		Name:           name,
		Kind:           FieldVector,
		Dim:            dim,
		Distance:       distance,
		M:              m,
		EFConstruction: efConstruction,
	})
}

// Build validates and returns the definition.
func (b *IndexBuilder) Build() (*IndexDefinition, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	def := b.def
	return &def, nil
}

// Validate checks that the definition is well-formed.
func (d *IndexDefinition) Validate() error {
	if !IsValidIdentifier(d.Name) {
		return fmt.Errorf("invalid index name %q", d.Name)
	}
	if len(d.Fields) == 0 {
		return errors.New("at least one field is required")
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for i, f := range d.Fields {
		if f.Name == "" {
			return errors.New("field name is required at position " + strconv.Itoa(i))
		}
		if _, dup := seen[f.Name]; dup {
			return errors.New("duplicate field name: " + f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Kind == FieldVector && f.Dim <= 0 {
			return errors.New("vector field requires positive DIM")
		}
	}
	return nil
}

// Args renders the definition as FT.CREATE arguments (without the command name).
func (d *IndexDefinition) Args() []string {
	args := []string{d.Name, "ON", "HASH"}
	if d.Prefix != "" {
		args = append(args, "PREFIX", "1", d.Prefix)
	}
	args = append(args, "SCHEMA")
	for _, f := range d.Fields {
		args = append(args, f.Name)
		switch f.Kind {
		case FieldText:
			args = append(args, "TEXT")
		case FieldTag:
			args = append(args, "TAG")
		case FieldNumeric:
			args = append(args, "NUMERIC")
		case FieldVector:
			args = append(args, vectorArgs(f)...)
		}
	}
	return args
}

func vectorArgs(f IndexField) []string {
	distance := f.Distance
	if distance == "" {
		distance = DistanceCosine
	}
	attrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(f.Dim),
		"DISTANCE_METRIC", distance,
	}
	if f.M > 0 {
		attrs = append(attrs, "M", strconv.Itoa(f.M))
	}
	if f.EFConstruction > 0 {
		attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(f.EFConstruction))
	}
	out := make([]string, 0, 3+len(attrs))
	out = append(out, "VECTOR", "HNSW", strconv.Itoa(len(attrs)))
	return append(out, attrs...)
}

// IsValidIdentifier reports whether s matches [a-zA-Z0-9_:-]+.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == ':' || r == '-':
		default:
			return false
		}
	}
	return true
}
