//go:build !no_automation

package automation

import (
	"context"
	"strings"
	"time"

	"dynaudio-go-home/internal/amp"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// registerAmpModule registers the `amp` global table in a Lua state.
//
// Commands take a device id (or its configured name) first and return true,
// or false and an error message. Zone arguments are optional; omitted means
// the device's current zone.
func registerAmpModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"on": func(L *lua.LState) int { return ampOn(L, vm) },

		"turn_on": func(L *lua.LState) int {
			zone := L.OptInt(2, 0)
			return ampCommand(L, e, func(ctx context.Context, c *amp.Controller) error {
				return c.TurnOn(ctx, zone)
			})
		},
		"turn_off": func(L *lua.LState) int {
			zone := L.OptInt(2, 0)
			return ampCommand(L, e, func(ctx context.Context, c *amp.Controller) error {
				return c.TurnOff(ctx, zone)
			})
		},
		"set_volume": func(L *lua.LState) int {
			level := float64(L.CheckNumber(2))
			zone := L.OptInt(3, 0)
			return ampCommand(L, e, func(ctx context.Context, c *amp.Controller) error {
				return c.SetVolume(ctx, zone, level)
			})
		},
		"mute": func(L *lua.LState) int {
			muted := L.OptBool(2, true)
			zone := L.OptInt(3, 0)
			return ampCommand(L, e, func(ctx context.Context, c *amp.Controller) error {
				return c.SetMute(ctx, zone, muted)
			})
		},
		"toggle_mute": func(L *lua.LState) int {
			zone := L.OptInt(2, 0)
			return ampCommand(L, e, func(ctx context.Context, c *amp.Controller) error {
				return c.ToggleMute(ctx, zone)
			})
		},
		"select_source": func(L *lua.LState) int {
			name := L.CheckString(2)
			zone := L.OptInt(3, 0)
			return ampCommand(L, e, func(ctx context.Context, c *amp.Controller) error {
				return c.SelectSource(ctx, zone, name)
			})
		},
		"select_zone": func(L *lua.LState) int {
			zone := L.CheckInt(2)
			return ampCommand(L, e, func(_ context.Context, c *amp.Controller) error {
				return c.SelectZone(zone)
			})
		},
		"poll": func(L *lua.LState) int {
			return ampCommand(L, e, func(ctx context.Context, c *amp.Controller) error {
				return c.Poll(ctx)
			})
		},

		"state":   func(L *lua.LState) int { return ampState(L, e) },
		"devices": func(L *lua.LState) int { return ampDevices(L, e) },
		"sources": func(L *lua.LState) int { return ampSources(L, e) },
		"after":   func(L *lua.LState) int { return ampAfter(L, vm, e) },
		"log": func(L *lua.LState) int {
			msg := L.CheckString(1)
			if vm.logf != nil {
				vm.logf(msg)
			}
			e.logger.Info("script log", "id", vm.id, "msg", msg)
			return 0
		},
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("amp", mod)
}

// amp.on(type, [filter], callback). type "*" matches every event.
func ampOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}

	switch arg := L.Get(2).(type) {
	case *lua.LFunction:
		h.fn = arg
	case *lua.LTable:
		if v := arg.RawGetString("device"); v != lua.LNil {
			h.device = v.String()
		}
		if v := arg.RawGetString("property"); v != lua.LNil {
			h.property = v.String()
		}
		h.fn = L.CheckFunction(3)
	default:
		L.ArgError(2, "filter table or function expected")
		return 0
	}

	if !vm.addHandler(h) {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
	}
	return 0
}

// ampCommand resolves argument 1 to a controller, runs fn and pushes the
// outcome.
func ampCommand(L *lua.LState, e *Engine, fn func(context.Context, *amp.Controller) error) int {
	target := L.CheckString(1)
	c := resolveDevice(e, target)
	if c == nil {
		e.logger.Warn("device not found", "target", target)
		L.Push(lua.LFalse)
		L.Push(lua.LString("device not found: " + target))
		return 2
	}

	parent := L.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	if err := fn(ctx, c); err != nil {
		e.logger.Warn("script command failed", "device", c.ID(), "err", err)
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// amp.state(id) returns the observable state table, or nil.
func ampState(L *lua.LState, e *Engine) int {
	c := resolveDevice(e, L.CheckString(1))
	if c == nil {
		L.Push(lua.LNil)
		return 1
	}
	st := c.State().Map()
	st["media_title"] = c.MediaTitle()
	st["pending"] = c.Pending()
	L.Push(goToLua(L, st))
	return 1
}

// amp.devices() returns {{id=..., name=...}, ...}.
func ampDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, c := range e.devices.List() {
		d := L.NewTable()
		d.RawSetString("id", lua.LString(c.ID()))
		d.RawSetString("name", lua.LString(c.Name()))
		tbl.RawSetInt(i+1, d)
	}
	L.Push(tbl)
	return 1
}

// amp.sources([id]) returns the source names of a device, or of the default
// catalog when no id is given.
func ampSources(L *lua.LState, e *Engine) int {
	names := amp.DefaultCatalog().Names()
	if L.GetTop() >= 1 {
		c := resolveDevice(e, L.CheckString(1))
		if c == nil {
			L.Push(lua.LNil)
			return 1
		}
		names = c.Sources()
	}
	L.Push(goToLua(L, names))
	return 1
}

// amp.after(seconds, callback) runs callback on the VM later.
func ampAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		e.enqueue(vm, func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "id", vm.id, "err", err)
			}
		})
	}()
	return 0
}

// resolveDevice finds a controller by id, then by case-insensitive name.
func resolveDevice(e *Engine, target string) *amp.Controller {
	if c, err := e.devices.Get(target); err == nil {
		return c
	}
	for _, c := range e.devices.List() {
		if strings.EqualFold(c.Name(), target) {
			return c
		}
	}
	return nil
}
