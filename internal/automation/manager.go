//go:build !no_automation

package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/yuin/gopher-lua/parse"
)

var (
	ErrScriptNotFound = errors.New("automation: script not found")
	ErrInvalidScript  = errors.New("automation: invalid script")
)

const metaPrefix = "-- {"

// validScriptID checks that a script ID is safe to use as a filename component.
func validScriptID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\") && !strings.Contains(id, "..")
}

// Manager loads, saves and lists automation scripts in one directory.
// A script file starts with a metadata line, "-- {json}", followed by the
// Lua source.
type Manager struct {
	dir    string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewManager creates a script manager rooted at dir, creating the directory
// if needed.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir, logger: logger.With("component", "scripts")}, nil
}

// Dir returns the scripts directory.
func (m *Manager) Dir() string { return m.dir }

// List returns all scripts in the directory, ordered by id. Unreadable
// files are skipped.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	scripts := make([]*Script, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		s, err := m.parseFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			m.logger.Warn("skip script", "file", e.Name(), "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Get returns a single script by id.
func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("%w: %q", ErrScriptNotFound, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.parseFile(m.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	return s, err
}

// Save checks that the Lua source parses and writes the script. A script
// without an id gets one derived from its name.
func (m *Manager) Save(s *Script) (*Script, error) {
	if s.ID != "" && !validScriptID(s.ID) {
		return nil, fmt.Errorf("%w: bad id %q", ErrInvalidScript, s.ID)
	}
	if err := checkSyntax(s.ID, s.LuaCode); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.uniqueID(slugify(s.Meta.Name))
	}
	s.FilePath = m.path(s.ID)
	if err := os.WriteFile(s.FilePath, []byte(serializeScript(s)), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	m.logger.Debug("script saved", "id", s.ID)
	return s, nil
}

// Delete removes a script by id.
func (m *Manager) Delete(id string) error {
	if !validScriptID(id) {
		return fmt.Errorf("%w: %q", ErrScriptNotFound, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrScriptNotFound, id)
		}
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+".lua")
}

// uniqueID appends _1, _2, ... to base until no file uses it. Callers hold
// the write lock.
func (m *Manager) uniqueID(base string) string {
	if base == "" {
		base = "script"
	}
	id := base
	for i := 1; ; i++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}
}

func (m *Manager) parseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := &Script{
		ID:       strings.TrimSuffix(filepath.Base(path), ".lua"),
		FilePath: path,
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], metaPrefix) {
		if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[0], "-- ")), &s.Meta); err != nil {
			m.logger.Warn("script metadata parse error", "file", path, "err", err)
		}
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	s.LuaCode = strings.Join(lines, "\n")
	return s, nil
}

func serializeScript(s *Script) string {
	var b strings.Builder

	meta, _ := json.Marshal(s.Meta)
	b.WriteString("-- ")
	b.Write(meta)
	b.WriteString("\n")

	if s.LuaCode != "" {
		b.WriteString("\n")
		b.WriteString(s.LuaCode)
		if !strings.HasSuffix(s.LuaCode, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// checkSyntax parses code without running it.
func checkSyntax(name, code string) error {
	if _, err := parse.Parse(strings.NewReader(code), name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	return nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
