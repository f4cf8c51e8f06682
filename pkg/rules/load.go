package rules

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"streamscraper/pkg/models"
)

// LoadFile reads rules from path.
//
// Plain files hold one pattern per line; blank lines and lines starting
// with # are skipped and every rule gets defaultTag. Files ending in .yaml
// or .yml hold a list of {pattern, tag} entries, with defaultTag filling
// missing tags.
func LoadFile(path, defaultTag string) (Set, error) {
	file, err := os.Open(path)
	if err != nil {
		return Set{}, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(file, defaultTag)
	default:
		return parseLines(file, defaultTag)
	}
}

func parseLines(r io.Reader, defaultTag string) (Set, error) {
	var patterns []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return Set{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	return FromPatterns(patterns, defaultTag), nil
}

func parseYAML(r io.Reader, defaultTag string) (Set, error) {
	var entries []models.FilterRule
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil && err != io.EOF {
		return Set{}, fmt.Errorf("failed to parse rules file: %w", err)
	}
	for i := range entries {
		entries[i].Pattern = strings.TrimSpace(entries[i].Pattern)
		if entries[i].Tag == "" {
			entries[i].Tag = defaultTag
		}
	}
	return New(entries...), nil
}
