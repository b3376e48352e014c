// Package sstable writes and reads immutable, sorted table segments.
//
// A segment is a set of component files in one table directory that share a
// descriptor prefix (for example "nb-3-big-"). Components are written under
// a "tmp-" prefix and renamed into place; TOC.txt is renamed last, so a
// segment without a TOC is incomplete and ignored by readers.
package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Component names a segment file.
type Component string

const (
	ComponentData       Component = "Data.db"
	ComponentIndex      Component = "Index.db"
	ComponentFilter     Component = "Filter.db"
	ComponentStatistics Component = "Statistics.json"
	ComponentDigest     Component = "Digest.crc32"
	ComponentTOC        Component = "TOC.txt"
)

// FormatVersion is the descriptor version written by this package.
const FormatVersion = "nb"

const (
	formatKind = "big"
	tmpPrefix  = "tmp-"
)

// AllComponents lists every component in the order they are written.
// TOC is always last.
var AllComponents = []Component{
	ComponentData,
	ComponentIndex,
	ComponentFilter,
	ComponentStatistics,
	ComponentDigest,
	ComponentTOC,
}

// Descriptor identifies one segment within a table directory.
type Descriptor struct {
	Dir        string
	Version    string
	Generation int
}

// NewDescriptor returns the descriptor of generation gen in dir.
func NewDescriptor(dir string, gen int) Descriptor {
	return Descriptor{Dir: dir, Version: FormatVersion, Generation: gen}
}

// Prefix returns the shared file name prefix, e.g. "nb-1-big-".
func (d Descriptor) Prefix() string {
	return fmt.Sprintf("%s-%d-%s-", d.Version, d.Generation, formatKind)
}

// String returns the descriptor without its directory, e.g. "nb-1-big".
func (d Descriptor) String() string {
	return strings.TrimSuffix(d.Prefix(), "-")
}

// Filename returns the final path of a component.
func (d Descriptor) Filename(c Component) string {
	return filepath.Join(d.Dir, d.Prefix()+string(c))
}

// TempFilename returns the in-progress path of a component.
func (d Descriptor) TempFilename(c Component) string {
	return filepath.Join(d.Dir, tmpPrefix+d.Prefix()+string(c))
}

// IsComplete reports whether the segment's TOC exists.
func (d Descriptor) IsComplete() bool {
	_, err := os.Stat(d.Filename(ComponentTOC))
	return err == nil
}

// ParseFilename extracts the descriptor and component from a component file
// name. Temporary files are reported with temp set.
func ParseFilename(dir, name string) (desc Descriptor, c Component, temp bool, err error) {
	base := name
	if strings.HasPrefix(base, tmpPrefix) {
		temp = true
		base = strings.TrimPrefix(base, tmpPrefix)
	}

	parts := strings.SplitN(base, "-", 4)
	if len(parts) != 4 || parts[2] != formatKind || parts[0] == "" {
		return Descriptor{}, "", false, fmt.Errorf("sstable: %q is not a segment component", name)
	}
	gen, err := strconv.Atoi(parts[1])
	if err != nil || gen < 1 {
		return Descriptor{}, "", false, fmt.Errorf("sstable: %q has an invalid generation", name)
	}

	return Descriptor{Dir: dir, Version: parts[0], Generation: gen}, Component(parts[3]), temp, nil
}

// MaxGeneration returns the highest generation present in dir, counting
// temporary and incomplete segments. It returns 0 for an empty or missing
// directory.
func MaxGeneration(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("sstable: failed to list %s: %w", dir, err)
	}

	highest := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		desc, _, _, err := ParseFilename(dir, e.Name())
		if err != nil {
			continue
		}
		if desc.Generation > highest {
			highest = desc.Generation
		}
	}
	return highest, nil
}

// ListSegments returns the complete segments in dir ordered by generation.
func ListSegments(dir string) ([]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sstable: failed to list %s: %w", dir, err)
	}

	var descs []Descriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		desc, c, temp, err := ParseFilename(dir, e.Name())
		if err != nil || temp || c != ComponentTOC {
			continue
		}
		descs = append(descs, desc)
	}

	sort.Slice(descs, func(i, j int) bool {
		return descs[i].Generation < descs[j].Generation
	})
	return descs, nil
}
