package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Version returns the numeric version embedded in a config file name:
// sensors.yaml is 0, sensors.3.yaml is 3. A non-numeric middle part is
// treated as part of the base name.
func Version(path string) int {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	i := strings.LastIndexByte(stem, '.')
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(stem[i+1:])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Resolve returns the highest versioned sibling of path, or path itself
// when no versioned copy exists. It fails when neither exists.
func Resolve(path string) (string, error) {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	if v := Version(path); v > 0 {
		stem = strings.TrimSuffix(stem, "."+strconv.Itoa(v))
	}

	matches, err := filepath.Glob(filepath.Join(dir, globEscape(stem)+".*"+ext))
	if err != nil {
		return "", fmt.Errorf("resolve config: %w", err)
	}

	best, bestVersion := "", -1
	for _, m := range matches {
		mid := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), stem+"."), ext)
		n, err := strconv.Atoi(mid)
		if err != nil || n < 0 {
			continue
		}
		if n > bestVersion {
			best, bestVersion = m, n
		}
	}
	if best != "" {
		return best, nil
	}

	base := filepath.Join(dir, stem+ext)
	if _, err := os.Stat(base); err != nil {
		return "", fmt.Errorf("resolve config: %w", err)
	}
	return base, nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}
