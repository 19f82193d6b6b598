//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dynaudio-go-home/internal/amp"

	lua "github.com/yuin/gopher-lua"
)

const (
	// runTimeout bounds a one-shot RunScript/RunLuaCode execution.
	runTimeout = 5 * time.Second
	// commandTimeout bounds each amplifier command issued from Lua.
	commandTimeout = 5 * time.Second

	commandQueueSize = 64
)

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a Lua callback registered with amp.on.
type luaEventHandler struct {
	eventType string
	device    string // empty matches any device
	property  string // empty matches any property
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script. All access to state
// goes through commands.
type scriptVM struct {
	id       string
	meta     ScriptMeta
	state    *lua.LState
	commands chan func(*lua.LState)
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
	// logf, when set, captures amp.log and system.log output.
	logf func(string)
}

func (vm *scriptVM) addHandler(h luaEventHandler) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		return false
	}
	vm.handlers = append(vm.handlers, h)
	return true
}

func (vm *scriptVM) snapshotHandlers() []luaEventHandler {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make([]luaEventHandler, len(vm.handlers))
	copy(out, vm.handlers)
	return out
}

// Engine runs enabled scripts and feeds them controller events.
type Engine struct {
	devices *amp.Manager
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

// NewEngine creates an automation engine. Scripts are loaded by Start.
func NewEngine(devices *amp.Manager, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		devices: devices,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to controller events and starts every enabled script.
func (e *Engine) Start() {
	e.unsub = e.devices.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

// Stop unsubscribes and cancels every VM.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// Running returns the ids of scripts with a live VM.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	return ids
}

// ReloadScript stops the script's VM, if any, and starts it again when the
// script is enabled.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a stored script once in a throwaway VM.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a throwaway VM. Handlers the code registers
// with amp.on are then called once with a synthetic event, so a script can
// be tried without waiting for a real one. Log output is captured.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	var (
		logs  []string
		logMu sync.Mutex
	)
	vm := &scriptVM{
		id:       "_run",
		commands: make(chan func(*lua.LState), commandQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		logf: func(msg string) {
			logMu.Lock()
			logs = append(logs, msg)
			logMu.Unlock()
		},
	}
	L := e.newState(vm)
	defer L.Close()
	L.SetContext(ctx)

	result := func(err error) *RunResult {
		logMu.Lock()
		defer logMu.Unlock()
		r := &RunResult{OK: err == nil, Logs: append([]string(nil), logs...), Duration: time.Since(start).String()}
		if err != nil {
			r.Error = runError(err)
			e.logger.Warn("script run failed", "err", r.Error)
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		return result(err)
	}

	for _, h := range vm.snapshotHandlers() {
		ev := L.NewTable()
		ev.RawSetString("type", lua.LString(h.eventType))
		if h.device != "" {
			ev.RawSetString("device", lua.LString(h.device))
		}
		if h.property != "" {
			ev.RawSetString("property", lua.LString(h.property))
		}
		ev.RawSetString("value", lua.LTrue)

		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, ev); err != nil {
			return result(err)
		}
	}
	return result(nil)
}

func runError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, context.DeadlineExceeded.Error()) {
		return fmt.Sprintf("timeout (%s)", runTimeout)
	}
	return msg
}

// newState creates a sandboxed Lua state with the amp and system modules.
func (e *Engine) newState(vm *scriptVM) *lua.LState {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	vm.state = L
	registerAmpModule(L, vm, e)
	registerSystemModule(L, vm, e)
	return L
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := &scriptVM{
		id:       s.ID,
		meta:     s.Meta,
		commands: make(chan func(*lua.LState), commandQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	L := e.newState(vm)

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues event on every VM with a matching handler. It never
// blocks: controllers emit while scripts may be issuing commands.
func (e *Engine) dispatchEvent(event amp.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		if !vm.meta.watches(event.Device()) {
			continue
		}
		for _, h := range vm.snapshotHandlers() {
			if !matchesHandler(h, event) {
				continue
			}
			if !e.enqueue(vm, func(L *lua.LState) { e.callHandler(L, vm, h.fn, event) }) {
				break
			}
		}
	}
}

// enqueue hands fn to the VM's goroutine. It reports false if the VM is
// stopped or its queue is full.
func (e *Engine) enqueue(vm *scriptVM, fn func(*lua.LState)) bool {
	if vm.ctx.Err() != nil {
		return false
	}
	select {
	case vm.commands <- fn:
		return true
	default:
		e.logger.Warn("script command queue full, dropping", "id", vm.id)
		return false
	}
}

func matchesHandler(h luaEventHandler, event amp.Event) bool {
	if h.eventType != "*" && h.eventType != event.Type {
		return false
	}

	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return h.device == "" && h.property == ""
	}
	if h.device != "" {
		if id, _ := data["device"].(string); id != h.device {
			return false
		}
	}
	if h.property != "" {
		if prop, _ := data["property"].(string); prop != h.property {
			return false
		}
	}
	return true
}

func (e *Engine) callHandler(L *lua.LState, vm *scriptVM, fn *lua.LFunction, event amp.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "id", vm.id, "err", r)
		}
	}()

	ev := L.NewTable()
	ev.RawSetString("type", lua.LString(event.Type))
	if data, ok := event.Data.(map[string]interface{}); ok {
		for k, v := range data {
			ev.RawSetString(k, goToLua(L, v))
		}
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, ev); err != nil {
		e.logger.Error("lua handler error", "id", vm.id, "event", event.Type, "err", err)
	}
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
