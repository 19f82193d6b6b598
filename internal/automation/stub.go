//go:build no_automation

package automation

import (
	"errors"
	"log/slog"

	"dynaudio-go-home/internal/amp"
)

var (
	ErrScriptNotFound = errors.New("automation: script not found")
	ErrInvalidScript  = errors.New("automation: invalid script")
)

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Devices     []string `json:"devices,omitempty"`
	Enabled     bool     `json:"enabled"`
}

// Script represents a single automation script stored on disk.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// NewManager returns a nil manager when automation is disabled.
func NewManager(_ string, _ *slog.Logger) (*Manager, error) { return nil, nil }

func (m *Manager) Dir() string                     { return "" }
func (m *Manager) List() ([]*Script, error)        { return nil, nil }
func (m *Manager) Get(_ string) (*Script, error)   { return nil, ErrScriptNotFound }
func (m *Manager) Save(s *Script) (*Script, error) { return s, nil }
func (m *Manager) Delete(_ string) error           { return nil }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(_ *amp.Manager, _ *Manager, _ *slog.Logger) *Engine { return &Engine{} }

func (e *Engine) Start()                      {}
func (e *Engine) Stop()                       {}
func (e *Engine) Running() []string           { return nil }
func (e *Engine) ReloadScript(_ string) error { return nil }
func (e *Engine) StopScript(_ string)         {}

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}
