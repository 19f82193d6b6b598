//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// now is replaced in tests.
var now = time.Now

// registerSystemModule registers the `system` global table in a Lua state.
func registerSystemModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	mod.RawSetString("datetime", L.NewFunction(systemDatetime))
	mod.RawSetString("time_between", L.NewFunction(systemTimeBetween))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return systemLog(L, vm, e)
	}))
	L.SetGlobal("system", mod)
}

// system.datetime(component): returns a date/time component
func systemDatetime(L *lua.LState) int {
	component := L.CheckString(1)
	t := now()

	switch component {
	case "hour":
		L.Push(lua.LNumber(t.Hour()))
	case "minute":
		L.Push(lua.LNumber(t.Minute()))
	case "second":
		L.Push(lua.LNumber(t.Second()))
	case "weekday":
		L.Push(lua.LNumber(t.Weekday()))
	case "day":
		L.Push(lua.LNumber(t.Day()))
	case "month":
		L.Push(lua.LNumber(t.Month()))
	case "year":
		L.Push(lua.LNumber(t.Year()))
	case "timestamp":
		L.Push(lua.LNumber(t.Unix()))
	case "time_str":
		L.Push(lua.LString(t.Format("15:04:05")))
	case "date_str":
		L.Push(lua.LString(t.Format("2006-01-02")))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// system.time_between(from_hour, to_hour): checks if current hour is in range (supports midnight wrap)
func systemTimeBetween(L *lua.LState) int {
	from := L.CheckInt(1)
	to := L.CheckInt(2)
	hour := now().Hour()

	var result bool
	if from <= to {
		// Normal range: e.g. 8-22
		result = hour >= from && hour < to
	} else {
		// Midnight-wrapping range: e.g. 22-6
		result = hour >= from || hour < to
	}

	L.Push(lua.LBool(result))
	return 1
}

// system.log(level, msg)
func systemLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)
	if vm.logf != nil {
		vm.logf("[" + level + "] " + msg)
	}

	log := e.logger.With("id", vm.id)
	switch level {
	case "debug":
		log.Debug("script log", "msg", msg)
	case "warn":
		log.Warn("script log", "msg", msg)
	case "error":
		log.Error("script log", "msg", msg)
	default:
		log.Info("script log", "msg", msg)
	}
	return 0
}
