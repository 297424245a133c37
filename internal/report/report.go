// Package report defines the SENAVE registries that can be exported and the
// mapping from each registry to the file it is converted into.
package report

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Type selects which registry the portal exports.
type Type int

const (
	// Phytosanitary is the registry of phytosanitary products (fitosanitarios).
	Phytosanitary Type = iota + 1
	// Fertilizer is the registry of fertilizer products (fertilizantes).
	Fertilizer
)

// All lists every report type in download order.
var All = []Type{Phytosanitary, Fertilizer}

// Code returns the value of the portal's report-type select option.
func (t Type) Code() string {
	switch t {
	case Phytosanitary:
		return "P"
	case Fertilizer:
		return "F"
	default:
		return ""
	}
}

// Name returns the registry name used in logs and default file names.
func (t Type) Name() string {
	switch t {
	case Phytosanitary:
		return "fitosanitarios"
	case Fertilizer:
		return "fertilizantes"
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (t Type) String() string {
	if name := t.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("report(%d)", int(t))
}

// Valid reports whether t is a known report type.
func (t Type) Valid() bool {
	return t.Code() != ""
}

// Parse accepts a form code ("P"), an English name ("phytosanitary") or the
// registry name ("fitosanitarios"), case-insensitively.
func Parse(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p", "phytosanitary", "fitosanitarios":
		return Phytosanitary, nil
	case "f", "fertilizer", "fertilizantes":
		return Fertilizer, nil
	default:
		return 0, fmt.Errorf("unknown report type %q (use P/phytosanitary or F/fertilizer)", s)
	}
}

// ParseList parses each entry and drops duplicates, keeping first-seen order.
func ParseList(values []string) ([]Type, error) {
	seen := make(map[Type]bool, len(values))
	types := make([]Type, 0, len(values))
	for _, v := range values {
		t, err := Parse(v)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	return types, nil
}

// Targets maps each report type to the path of its converted output.
type Targets map[Type]string

// DefaultTargets places <name>.csv for every report type in dir.
func DefaultTargets(dir string) Targets {
	targets := make(Targets, len(All))
	for _, t := range All {
		targets[t] = filepath.Join(dir, t.Name()+".csv")
	}
	return targets
}

// Path returns the output path for t.
func (m Targets) Path(t Type) (string, error) {
	p, ok := m[t]
	if !ok || p == "" {
		return "", fmt.Errorf("no output path configured for report %s", t)
	}
	return p, nil
}

// Set parses an override of the form "P=path/to/file.csv".
func (m Targets) Set(entry string) error {
	key, path, ok := strings.Cut(entry, "=")
	if !ok || strings.TrimSpace(path) == "" {
		return fmt.Errorf("invalid target %q (expected TYPE=PATH)", entry)
	}
	t, err := Parse(key)
	if err != nil {
		return err
	}
	m[t] = strings.TrimSpace(path)
	return nil
}
