//go:build !no_automation

package automation

import (
	"log/slog"
	"os"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func withClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func newSystemState(t *testing.T, vm *scriptVM) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	e := &Engine{logger: testLogger()}
	registerSystemModule(L, vm, e)
	return L
}

func TestSystemDatetime(t *testing.T) {
	withClock(t, time.Date(2024, time.March, 9, 21, 5, 7, 0, time.Local))
	L := newSystemState(t, &scriptVM{})

	tests := []struct {
		component string
		want      lua.LValue
	}{
		{"hour", lua.LNumber(21)},
		{"minute", lua.LNumber(5)},
		{"second", lua.LNumber(7)},
		{"weekday", lua.LNumber(time.Saturday)},
		{"day", lua.LNumber(9)},
		{"month", lua.LNumber(3)},
		{"year", lua.LNumber(2024)},
		{"time_str", lua.LString("21:05:07")},
		{"date_str", lua.LString("2024-03-09")},
	}
	for _, tt := range tests {
		L.SetGlobal("_comp", lua.LString(tt.component))
		if err := L.DoString(`_result = system.datetime(_comp)`); err != nil {
			t.Fatalf("system.datetime(%q): %v", tt.component, err)
		}
		if got := L.GetGlobal("_result"); got != tt.want {
			t.Errorf("system.datetime(%q) = %v, want %v", tt.component, got, tt.want)
		}
	}

	if err := L.DoString(`system.datetime("fortnight")`); err == nil {
		t.Error("unknown component should raise")
	}
}

func TestSystemTimeBetween(t *testing.T) {
	tests := []struct {
		hour     int
		from, to int
		want     bool
	}{
		{hour: 10, from: 8, to: 22, want: true},
		{hour: 8, from: 8, to: 22, want: true},
		{hour: 22, from: 8, to: 22, want: false},
		{hour: 23, from: 22, to: 6, want: true},
		{hour: 3, from: 22, to: 6, want: true},
		{hour: 12, from: 22, to: 6, want: false},
	}
	for _, tt := range tests {
		withClock(t, time.Date(2024, 1, 1, tt.hour, 30, 0, 0, time.Local))
		L := newSystemState(t, &scriptVM{})
		L.SetGlobal("_from", lua.LNumber(tt.from))
		L.SetGlobal("_to", lua.LNumber(tt.to))
		if err := L.DoString(`_result = system.time_between(_from, _to)`); err != nil {
			t.Fatal(err)
		}
		if got := L.GetGlobal("_result"); got != lua.LBool(tt.want) {
			t.Errorf("time_between(%d, %d) at %02d:30 = %v, want %v", tt.from, tt.to, tt.hour, got, tt.want)
		}
	}
}

func TestSystemLogCaptured(t *testing.T) {
	var got []string
	vm := &scriptVM{id: "s", logf: func(msg string) { got = append(got, msg) }}
	L := newSystemState(t, vm)

	if err := L.DoString(`system.log("warn", "too loud")`); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "[warn] too loud" {
		t.Errorf("captured %q", got)
	}
}
