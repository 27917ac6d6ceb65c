// Package schema holds the static record-type registry: which record types
// exist, how they inherit from each other, and which of them own physical
// storage tables. It is built once at startup from configuration.
package schema

import (
	"regexp"
	"sort"

	"github.com/teranos/vclean/errors"
)

// ErrUnknownRecordType is returned when a record type is not registered.
var ErrUnknownRecordType = errors.New("unknown record type")

// Table name suffixes following the versioned-storage convention.
const (
	VersionsSuffix = "_Versions"
	LiveSuffix     = "_Live"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s can be used as a quoted SQL identifier.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// TypeDef describes one record type.
// Parent is empty for types that derive directly from the generic root record,
// which owns no table. Table is empty for abstract types without storage.
type TypeDef struct {
	Name   string
	Parent string
	Table  string
}

// Registry maps record types to their inheritance chain and storage tables.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	types       map[string]TypeDef
	children    map[string][]string
	classColumn string
}

// NewRegistry validates defs and builds a registry.
// Unknown parents, cycles, duplicate names and invalid identifiers are rejected.
func NewRegistry(defs []TypeDef, classColumn string) (*Registry, error) {
	if !ValidIdentifier(classColumn) {
		return nil, errors.Newf("invalid class column %q", classColumn)
	}

	r := &Registry{
		types:       make(map[string]TypeDef, len(defs)),
		children:    make(map[string][]string),
		classColumn: classColumn,
	}

	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("record type name cannot be empty")
		}
		if _, exists := r.types[def.Name]; exists {
			return nil, errors.Newf("duplicate record type %q", def.Name)
		}
		if def.Table != "" && !ValidIdentifier(def.Table) {
			return nil, errors.Newf("record type %q has invalid table name %q", def.Name, def.Table)
		}
		r.types[def.Name] = def
	}

	for _, def := range defs {
		if def.Parent == "" {
			continue
		}
		if _, ok := r.types[def.Parent]; !ok {
			return nil, errors.Newf("record type %q has unknown parent %q", def.Name, def.Parent)
		}
		r.children[def.Parent] = append(r.children[def.Parent], def.Name)
	}

	for name := range r.types {
		if err := r.checkCycle(name); err != nil {
			return nil, err
		}
	}

	for parent := range r.children {
		sort.Strings(r.children[parent])
	}

	return r, nil
}

func (r *Registry) checkCycle(start string) error {
	seen := map[string]bool{start: true}
	current := r.types[start].Parent
	for current != "" {
		if seen[current] {
			return errors.Newf("record type %q has a cyclic inheritance chain", start)
		}
		seen[current] = true
		current = r.types[current].Parent
	}
	return nil
}

// Resolve returns the version tables holding history for recordType,
// ordered leaf to root. Ancestors without a table are skipped and the
// walk continues past them. Each table appears once.
func (r *Registry) Resolve(recordType string) ([]string, error) {
	def, ok := r.types[recordType]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownRecordType, "%q", recordType)
	}

	var tables []string
	added := make(map[string]bool)
	for {
		if def.Table != "" {
			name := def.Table + VersionsSuffix
			if !added[name] {
				added[name] = true
				tables = append(tables, name)
			}
		}
		if def.Parent == "" {
			break
		}
		def = r.types[def.Parent]
	}
	return tables, nil
}

// BaseTable returns the table of the root-most storage-bearing ancestor of
// recordType. That table carries the ID, class column and Draft pointer.
func (r *Registry) BaseTable(recordType string) (string, error) {
	def, ok := r.types[recordType]
	if !ok {
		return "", errors.Wrapf(ErrUnknownRecordType, "%q", recordType)
	}

	base := ""
	for {
		if def.Table != "" {
			base = def.Table
		}
		if def.Parent == "" {
			break
		}
		def = r.types[def.Parent]
	}
	if base == "" {
		return "", errors.WithHintf(
			errors.Newf("record type %q has no storage table in its chain", recordType),
			"give %q or one of its ancestors a table", recordType)
	}
	return base, nil
}

// Descendants returns recordType followed by every registered subtype,
// depth-first in name order. Used to filter records by class column.
func (r *Registry) Descendants(recordType string) ([]string, error) {
	if _, ok := r.types[recordType]; !ok {
		return nil, errors.Wrapf(ErrUnknownRecordType, "%q", recordType)
	}

	var out []string
	var walk func(name string)
	walk = func(name string) {
		out = append(out, name)
		for _, child := range r.children[name] {
			walk(child)
		}
	}
	walk(recordType)
	return out, nil
}

// Has reports whether recordType is registered.
func (r *Registry) Has(recordType string) bool {
	_, ok := r.types[recordType]
	return ok
}

// Types returns all registered type definitions sorted by name.
func (r *Registry) Types() []TypeDef {
	out := make([]TypeDef, 0, len(r.types))
	for _, def := range r.types {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ClassColumn returns the discriminator column name on base tables.
func (r *Registry) ClassColumn() string {
	return r.classColumn
}
