package quality

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Discover walks root and returns a Report for every file parser accepts,
// sorted by path. Hidden directories are not entered. When the same report
// appears both archived and extracted, the archive wins.
func Discover(root string, parser Parser, namer *Namer) ([]Report, error) {
	if namer == nil {
		namer = DefaultNamer()
	}

	byName := make(map[string]Report)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !parser.Accepts(d.Name()) {
			return nil
		}
		rep := namer.Report(path)
		key := stripReportSuffix(rep.Name)
		if prev, ok := byName[key]; ok && strings.HasSuffix(prev.Path, ".zip") {
			return nil
		}
		byName[key] = rep
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover reports under %s: %w", root, err)
	}

	reports := make([]Report, 0, len(byName))
	for _, r := range byName {
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Path < reports[j].Path
	})
	return reports, nil
}
