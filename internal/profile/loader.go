package profile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"text-anonymizer/internal/entity"
)

// File names inside a profile directory.
const (
	SettingsFile  = "profile.yaml"
	PatternsFile  = "regex_patterns.json"
	GrantListFile = "grantlist.txt"
	BlockListFile = "blocklist.txt"
)

// settingsFile is the on-disk shape of profile.yaml. Pointer fields
// distinguish "absent" from an explicit zero.
type settingsFile struct {
	FuzzyThreshold  *float64          `yaml:"fuzzy_threshold"`
	ExactScore      *float64          `yaml:"exact_score"`
	ScoreThreshold  *float64          `yaml:"score_threshold"`
	GrantEntityType string            `yaml:"grant_entity_type"`
	PrefixMatch     bool              `yaml:"prefix_match"`
	BuiltinPatterns *bool             `yaml:"builtin_patterns"`
	Labels          map[string]string `yaml:"labels"`
	Recognizers     []string          `yaml:"recognizers"`
	SourcePriority  []string          `yaml:"source_priority"`
	Coalesce        *struct {
		Enabled bool `yaml:"enabled"`
		MaxGap  *int `yaml:"max_gap"`
	} `yaml:"coalesce"`

	// Explicit file names must exist; the defaults are optional.
	GrantListFile string `yaml:"grant_list_file"`
	BlockListFile string `yaml:"block_list_file"`
	PatternsFile  string `yaml:"patterns_file"`
}

// patternConfig is one entry of regex_patterns.json.
type patternConfig struct {
	Name    string   `json:"name"`
	Pattern string   `json:"pattern"`
	Score   *float64 `json:"score"`
}

// defaultPatternScore is used when a JSON pattern omits its score.
const defaultPatternScore = 0.85

// Loader reads profiles from a config directory laid out as
//
//	<dir>/profile.yaml, regex_patterns.json, grantlist.txt, blocklist.txt  (default profile)
//	<dir>/<name>/...                                                       (named profiles)
type Loader struct {
	dir string
}

// NewLoader returns a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: filepath.Clean(dir)}
}

// Dir returns the config root.
func (l *Loader) Dir() string { return l.dir }

// Load reads, validates and returns the named profile. An empty name selects
// the default profile. Every failure is a *ConfigError.
func (l *Loader) Load(name string) (*Profile, error) {
	if name == "" {
		name = DefaultName
	}
	dir, err := l.profileDir(name)
	if err != nil {
		return nil, err
	}

	p := New(name)

	settings, err := readSettings(filepath.Join(dir, SettingsFile))
	if err != nil {
		return nil, &ConfigError{Kind: KindProfile, Subject: name, Err: err}
	}
	if err := applySettings(p, settings); err != nil {
		return nil, &ConfigError{Kind: KindSettings, Subject: name, Err: err}
	}

	patternsPath, required := pick(dir, settings.PatternsFile, PatternsFile)
	custom, err := readPatterns(patternsPath, required)
	if err != nil {
		return nil, &ConfigError{Kind: KindPattern, Subject: patternsPath, Err: err}
	}
	p.Patterns = append(p.Patterns, custom...)

	grantPath, required := pick(dir, settings.GrantListFile, GrantListFile)
	if p.GrantList, err = readList(grantPath, Grant, required); err != nil {
		return nil, &ConfigError{Kind: KindList, Subject: grantPath, Err: err}
	}
	blockPath, required := pick(dir, settings.BlockListFile, BlockListFile)
	if p.BlockList, err = readList(blockPath, Block, required); err != nil {
		return nil, &ConfigError{Kind: KindList, Subject: blockPath, Err: err}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the default profile followed by every named profile
// directory (names starting with "_" or "." are skipped), sorted.
func (l *Loader) List() ([]string, error) {
	names := []string{DefaultName}
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return names, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list profiles in %s: %w", l.dir, err)
	}
	var named []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() || strings.HasPrefix(n, "_") || strings.HasPrefix(n, ".") || n == DefaultName {
			continue
		}
		named = append(named, n)
	}
	sort.Strings(named)
	return append(names, named...), nil
}

// ProfileForPath maps a file path under the config root to the profile it
// configures. Files at the root belong to the default profile.
func (l *Loader) ProfileForPath(path string) (string, bool) {
	rel, err := filepath.Rel(l.dir, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 1 {
		return DefaultName, true
	}
	if strings.HasPrefix(parts[0], "_") || strings.HasPrefix(parts[0], ".") {
		return "", false
	}
	return parts[0], true
}

func (l *Loader) profileDir(name string) (string, error) {
	if name == DefaultName {
		return l.dir, nil
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.HasPrefix(name, "_") {
		return "", &ConfigError{Kind: KindProfile, Subject: name, Err: fmt.Errorf("invalid profile name")}
	}
	dir := filepath.Join(l.dir, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", &ConfigError{Kind: KindProfile, Subject: name, Err: ErrProfileNotFound}
	}
	return dir, nil
}

// pick returns the explicit file if set (then it must exist), else the
// optional default.
func pick(dir, explicit, fallback string) (path string, required bool) {
	if explicit != "" {
		if filepath.IsAbs(explicit) {
			return explicit, true
		}
		return filepath.Join(dir, explicit), true
	}
	return filepath.Join(dir, fallback), false
}

func readSettings(path string) (settingsFile, error) {
	var s settingsFile
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return s, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

func applySettings(p *Profile, s settingsFile) error {
	if s.FuzzyThreshold != nil {
		p.FuzzyThreshold = *s.FuzzyThreshold
	}
	if s.ExactScore != nil {
		p.ExactScore = *s.ExactScore
	}
	if s.ScoreThreshold != nil {
		p.ScoreThreshold = *s.ScoreThreshold
	}
	if s.GrantEntityType != "" {
		p.GrantEntityType = s.GrantEntityType
	}
	p.PrefixMatch = s.PrefixMatch
	if s.BuiltinPatterns != nil && !*s.BuiltinPatterns {
		p.Patterns = nil
	}
	for entityType, label := range s.Labels {
		p.Labels[entityType] = label
	}
	if len(s.Recognizers) > 0 {
		p.Recognizers = append([]string(nil), s.Recognizers...)
	}
	if len(s.SourcePriority) > 0 {
		order := make([]entity.Source, 0, len(s.SourcePriority))
		for _, raw := range s.SourcePriority {
			src, err := entity.ParseSource(raw)
			if err != nil {
				return fmt.Errorf("source_priority: %w", err)
			}
			order = append(order, src)
		}
		p.SourcePriority = order
	}
	if s.Coalesce != nil {
		p.Coalesce.Enabled = s.Coalesce.Enabled
		if s.Coalesce.MaxGap != nil {
			p.Coalesce.MaxGap = *s.Coalesce.MaxGap
		}
	}
	return nil
}

// readPatterns loads a JSON mapping entity_type -> [{name, pattern, score}].
// Entity types are visited in sorted order so pattern order is stable.
func readPatterns(path string, required bool) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var raw map[string][]patternConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	types := make([]string, 0, len(raw))
	for t := range raw {
		types = append(types, t)
	}
	sort.Strings(types)

	var out []Pattern
	for _, entityType := range types {
		for i, pc := range raw[entityType] {
			if pc.Pattern == "" {
				return nil, fmt.Errorf("%s[%d]: empty pattern", entityType, i)
			}
			name := pc.Name
			if name == "" {
				name = "unnamed"
			}
			score := defaultPatternScore
			if pc.Score != nil {
				score = *pc.Score
			}
			out = append(out, Pattern{
				Name:       name,
				Regex:      pc.Pattern,
				EntityType: entityType,
				Score:      score,
				Group:      GroupCustomRegex,
			})
		}
	}
	return out, nil
}

// readList reads one term per line. Blank lines and "#" comments are
// skipped; duplicates (after normalization) are dropped.
func readList(path string, m Membership, required bool) ([]ListEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only file

	var out []ListEntry
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("line %d: not valid UTF-8", line)
		}
		text := strings.TrimSpace(string(raw))
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		e, ok := NewListEntry(text, m)
		if !ok {
			continue
		}
		if _, dup := seen[e.Term]; dup {
			continue
		}
		seen[e.Term] = struct{}{}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
