package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadFromFile parses a key = value configuration file. Lines starting with
// # are comments, values may be double or single quoted, and an `include`
// directive pulls in another file or every *.cfg of a directory in
// lexicographic order. Files already loaded are skipped, which makes reloads
// idempotent.
func (c *Config) LoadFromFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if c.loadedFiles[abs] {
		c.logf("configuration file %s already loaded", abs)
		return nil
	}
	c.loadedFiles[abs] = true

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			// An include directive has no equals sign.
			if directive, target, ok := strings.Cut(line, " "); ok && directive == "include" {
				if err := c.include(strings.TrimSpace(target), abs); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("%s:%d: malformed line %q", abs, lineno, line)
		}

		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if key == "include" {
			if err := c.include(value, abs); err != nil {
				return err
			}
			continue
		}
		if err := c.set(key, value); err != nil {
			return fmt.Errorf("%s:%d: %w", abs, lineno, err)
		}
	}
	return scanner.Err()
}

// include loads another file, or all *.cfg files of a directory.
func (c *Config) include(target, from string) error {
	if target == "" {
		return fmt.Errorf("empty include directive in %s", from)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(from), target)
	}

	info, err := os.Stat(target)
	if err != nil {
		// Missing includes are tolerated so packaging can ship an empty
		// conf.d directory.
		c.logf("skipping missing include %s", target)
		return nil
	}

	if !info.IsDir() {
		return c.LoadFromFile(target)
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".cfg") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		if err := c.LoadFromFile(filepath.Join(target, name)); err != nil {
			return err
		}
	}
	return nil
}

func unquote(value string) string {
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	// Strip a trailing comment on unquoted values.
	if idx := strings.Index(value, " #"); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return value
}
