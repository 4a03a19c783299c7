// Package playbook reads and writes the files an operator edits to stage
// a play. All of them live in one directory:
//
//	directors.json   JSON array of correspondent IDs allowed to send commands
//	focus.json       JSON array of entity categories worth remembering
//	memory.txt       persona facts, one per line
//	relations.txt    alternating lines: a name, then the relation text for it
//	scenarios.xlsx   rule table (or scenarios.yaml)
//	intents.yaml     optional keyword intent rules
//
// Missing optional files load as empty. A malformed file is an error.
package playbook

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bdobrica/butai/internal/butai/scenario"
)

const (
	DirectorsFile = "directors.json"
	FocusFile     = "focus.json"
	MemoryFile    = "memory.txt"
	RelationsFile = "relations.txt"
	IntentsFile   = "intents.yaml"
)

// scenarioFiles are tried in order.
var scenarioFiles = []string{"scenarios.xlsx", "scenarios.yaml", "scenarios.yml"}

// Playbook is a handle on the configuration directory. Writes are
// serialised so concurrent director commands cannot interleave lines.
type Playbook struct {
	dir string
	mu  sync.Mutex
}

// Open returns a handle on dir, which must exist.
func Open(dir string) (*Playbook, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("playbook directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("playbook directory %q is not a directory", dir)
	}
	return &Playbook{dir: dir}, nil
}

// Dir returns the directory path.
func (p *Playbook) Dir() string { return p.dir }

// Path joins name onto the directory.
func (p *Playbook) Path(name string) string { return filepath.Join(p.dir, name) }

// ScenarioPath returns the first scenario file present.
func (p *Playbook) ScenarioPath() (string, error) {
	for _, name := range scenarioFiles {
		path := p.Path(name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no scenario file in %s (tried %s)", p.dir, strings.Join(scenarioFiles, ", "))
}

// Scenarios loads and validates the rule table.
func (p *Playbook) Scenarios() (*scenario.Table, error) {
	path, err := p.ScenarioPath()
	if err != nil {
		return nil, err
	}
	return scenario.Load(path)
}

// Directors loads the director list.
func (p *Playbook) Directors() ([]string, error) {
	return p.readStringArray(DirectorsFile)
}

// Focus loads the entity category schema.
func (p *Playbook) Focus() ([]string, error) {
	return p.readStringArray(FocusFile)
}

// SaveFocus overwrites the category schema.
func (p *Playbook) SaveFocus(categories []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := json.MarshalIndent(categories, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(p.Path(FocusFile), append(data, '\n'))
}

// SelfMemory returns the persona facts, skipping blank lines.
func (p *Playbook) SelfMemory() ([]string, error) {
	lines, err := p.readLines(MemoryFile)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

// AppendSelfMemory adds one fact to the end of memory.txt.
func (p *Playbook) AppendSelfMemory(fact string) error {
	fact = strings.TrimSpace(strings.ReplaceAll(fact, "\n", " "))
	if fact == "" {
		return errors.New("empty memory line")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	path := p.Path(MemoryFile)
	prefix := ""
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 && data[len(data)-1] != '\n' {
		prefix = "\n"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", MemoryFile, err)
	}
	defer f.Close()
	if _, err := f.WriteString(prefix + fact + "\n"); err != nil {
		return fmt.Errorf("append %s: %w", MemoryFile, err)
	}
	return nil
}

// Relations reads relations.txt into name → text. An odd number of
// non-blank lines is an error.
func (p *Playbook) Relations() (map[string]string, error) {
	lines, err := p.readLines(RelationsFile)
	if err != nil {
		return nil, err
	}
	var nonBlank []string
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			nonBlank = append(nonBlank, l)
		}
	}
	if len(nonBlank)%2 != 0 {
		return nil, fmt.Errorf("%s: %d lines, expected name/text pairs", RelationsFile, len(nonBlank))
	}
	out := make(map[string]string, len(nonBlank)/2)
	for i := 0; i < len(nonBlank); i += 2 {
		out[nonBlank[i]] = nonBlank[i+1]
	}
	return out, nil
}

// HasIntents reports whether keyword intent rules are present.
func (p *Playbook) HasIntents() bool {
	_, err := os.Stat(p.Path(IntentsFile))
	return err == nil
}

func (p *Playbook) readStringArray(name string) ([]string, error) {
	data, err := os.ReadFile(p.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return out, nil
}

func (p *Playbook) readLines(name string) ([]string, error) {
	f, err := os.Open(p.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return lines, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
