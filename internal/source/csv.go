package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultMinDescription is the description length a package must exceed to be
// worth matching. Shorter descriptions carry too little signal.
const DefaultMinDescription = 40

// LoadPackagesCSV reads packages from a CSV stream with an Id, Title,
// Description header. Column order does not matter. Packages whose
// description is not longer than minDescription runes are skipped.
func LoadPackagesCSV(r io.Reader, minDescription int) ([]Package, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("packages csv: missing header")
		}
		return nil, fmt.Errorf("packages csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, name := range []string{"Id", "Title", "Description"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("packages csv: missing column %q", name)
		}
	}

	var packages []Package
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("packages csv line %d: %w", line, err)
		}
		if len(rec) <= max(cols["Id"], cols["Title"], cols["Description"]) {
			return nil, fmt.Errorf("packages csv line %d: too few fields", line)
		}
		desc := rec[cols["Description"]]
		if len([]rune(desc)) <= minDescription {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rec[cols["Id"]]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("packages csv line %d: bad id: %w", line, err)
		}
		packages = append(packages, Package{ID: id, Title: rec[cols["Title"]], Description: desc})
	}
	return packages, nil
}

// LoadPackagesFile opens path and reads it with LoadPackagesCSV.
func LoadPackagesFile(path string, minDescription int) ([]Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open packages: %w", err)
	}
	defer f.Close()
	return LoadPackagesCSV(f, minDescription)
}

// SkillItems converts loaded skills to the keyed item map the engine takes.
func SkillItems(skills map[int64]Skill) map[int64]Item {
	out := make(map[int64]Item, len(skills))
	for k, s := range skills {
		out[k] = s
	}
	return out
}

// PackageItems converts loaded packages to the ordered item slice the engine
// takes.
func PackageItems(packages []Package) []Item {
	out := make([]Item, len(packages))
	for i, p := range packages {
		out[i] = p
	}
	return out
}
