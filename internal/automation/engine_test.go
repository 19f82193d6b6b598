//go:build !no_automation

package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"dynaudio-go-home/internal/amp"
	"dynaudio-go-home/internal/frame"
	"dynaudio-go-home/internal/transport"

	lua "github.com/yuin/gopher-lua"
)

type stubLink struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *stubLink) Exchange(_ context.Context, data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, frame.FormatHex(data))
	return nil, s.err
}

func (s *stubLink) Health() transport.Health {
	return transport.Health{Threshold: transport.DefaultFailureThreshold}
}

func (s *stubLink) frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// newTestDevices registers "living" (named "Living Room") and "den".
func newTestDevices(t *testing.T) (*amp.Manager, map[string]*stubLink) {
	t.Helper()
	logger := testLogger()
	bus := amp.NewEventBus(logger)
	devices := amp.NewManager(bus)
	links := map[string]*stubLink{}
	for id, name := range map[string]string{"living": "Living Room", "den": ""} {
		cfg := amp.DefaultConfig(id)
		if name != "" {
			cfg.Name = name
		}
		link := &stubLink{}
		c, err := amp.NewController(cfg, link, amp.WithEventBus(bus), amp.WithLogger(logger))
		if err != nil {
			t.Fatal(err)
		}
		if err := devices.Add(c); err != nil {
			t.Fatal(err)
		}
		links[id] = link
	}
	return devices, links
}

func newTestEngine(t *testing.T) (*Engine, *amp.Manager, map[string]*stubLink) {
	t.Helper()
	devices, links := newTestDevices(t)
	e := NewEngine(devices, newTestManager(t), testLogger())
	t.Cleanup(e.Stop)
	return e, devices, links
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  interface{}
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"int64", int64(99), lua.LTNumber},
		{"float64", 0.5, lua.LTNumber},
		{"byte", uint8(255), lua.LTNumber},
		{"map", map[string]interface{}{"a": 1}, lua.LTTable},
		{"slice", []interface{}{1, 2, 3}, lua.LTTable},
		{"strings", []string{"USB", "Line"}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val).Type(); got != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestGoToLuaState(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	st := amp.State{Power: true, Volume: 0.5, Source: "USB", Zone: 2}
	tbl, ok := goToLua(L, st.Map()).(*lua.LTable)
	if !ok {
		t.Fatal("expected LTable")
	}
	if v := tbl.RawGetString("power"); v != lua.LTrue {
		t.Errorf("power = %v", v)
	}
	if v := tbl.RawGetString("volume"); v != lua.LNumber(0.5) {
		t.Errorf("volume = %v", v)
	}
	if v := tbl.RawGetString("source"); v != lua.LString("USB") {
		t.Errorf("source = %v", v)
	}
	if v := tbl.RawGetString("zone"); v != lua.LNumber(2) {
		t.Errorf("zone = %v", v)
	}
}

func TestMatchesHandler(t *testing.T) {
	ev := amp.Event{Type: amp.EventStateChanged, Data: map[string]interface{}{
		"device":   "living",
		"property": "volume",
		"value":    0.5,
	}}

	tests := []struct {
		name string
		h    luaEventHandler
		ev   amp.Event
		want bool
	}{
		{"type only", luaEventHandler{eventType: amp.EventStateChanged}, ev, true},
		{"wrong type", luaEventHandler{eventType: amp.EventFeedback}, ev, false},
		{"wildcard", luaEventHandler{eventType: "*"}, ev, true},
		{"device match", luaEventHandler{eventType: amp.EventStateChanged, device: "living"}, ev, true},
		{"device mismatch", luaEventHandler{eventType: amp.EventStateChanged, device: "den"}, ev, false},
		{"property match", luaEventHandler{eventType: amp.EventStateChanged, property: "volume"}, ev, true},
		{"property mismatch", luaEventHandler{eventType: amp.EventStateChanged, property: "muted"}, ev, false},
		{"non-map data", luaEventHandler{eventType: "x"}, amp.Event{Type: "x", Data: 1}, true},
		{"non-map data with filter", luaEventHandler{eventType: "x", device: "living"}, amp.Event{Type: "x", Data: 1}, false},
	}
	for _, tt := range tests {
		if got := matchesHandler(tt.h, tt.ev); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestEngineRunsEnabledScripts(t *testing.T) {
	e, devices, links := newTestEngine(t)

	_, err := e.manager.Save(&Script{
		Meta: ScriptMeta{Name: "Mute to USB", Enabled: true},
		LuaCode: `
amp.on("state_changed", {device="living", property="muted"}, function(ev)
  if ev.value then amp.select_source("living", "USB") end
end)`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.manager.Save(&Script{Meta: ScriptMeta{Name: "Disabled"}, LuaCode: `amp.log("x")`}); err != nil {
		t.Fatal(err)
	}

	e.Start()
	if running := e.Running(); len(running) != 1 || running[0] != "mute_to_usb" {
		t.Fatalf("running = %v", running)
	}

	c, _ := devices.Get("living")
	if err := c.ToggleMute(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "source change", func() bool { return c.Source() == "USB" })

	frames := links["living"].frames()
	if len(frames) != 2 || frames[1] != "FF 55 05 2F A0 15 05 51 C1" {
		t.Errorf("frames = %v", frames)
	}
}

func TestEngineDeviceScope(t *testing.T) {
	e, devices, links := newTestEngine(t)

	_, err := e.manager.Save(&Script{
		Meta:    ScriptMeta{Name: "Den only", Devices: []string{"den"}, Enabled: true},
		LuaCode: `amp.on("command_sent", function(ev) amp.select_zone(ev.device, 3) end)`,
	})
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	living, _ := devices.Get("living")
	den, _ := devices.Get("den")
	if err := living.TurnOn(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if err := den.TurnOn(context.Background(), 0); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "den zone change", func() bool { return den.Zone() == 3 })
	if living.Zone() != 1 {
		t.Errorf("living zone = %d, script should not see its events", living.Zone())
	}
	if n := len(links["den"].frames()); n != 1 {
		t.Errorf("den frames = %d, want 1", n)
	}
}

func TestEngineReloadAndStop(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Start()

	s, err := e.manager.Save(&Script{Meta: ScriptMeta{Name: "Later", Enabled: true}, LuaCode: `amp.log("up")`})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if len(e.Running()) != 1 {
		t.Fatalf("running = %v", e.Running())
	}

	s.Meta.Enabled = false
	if _, err := e.manager.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript(s.ID); err != nil {
		t.Fatal(err)
	}
	if len(e.Running()) != 0 {
		t.Errorf("disabled script still running: %v", e.Running())
	}

	if err := e.ReloadScript("missing"); err == nil {
		t.Error("reload of missing script should fail")
	}
}

func TestEngineStartScriptError(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.startScript(&Script{ID: "bad", LuaCode: `error("boom")`})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(e.Running()) != 0 {
		t.Errorf("running = %v", e.Running())
	}
}

func TestRunLuaCode(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`amp.log("hello") system.log("info", "there")`)
	if !res.OK || len(res.Logs) != 2 || res.Logs[0] != "hello" || res.Logs[1] != "[info] there" {
		t.Errorf("result = %+v", res)
	}

	res = e.RunLuaCode(`error("boom")`)
	if res.OK || res.Error == "" {
		t.Errorf("error result = %+v", res)
	}

	res = e.RunLuaCode(`os.exit(1)`)
	if res.OK {
		t.Error("os should be sandboxed away")
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	e, _, _ := newTestEngine(t)
	res := e.RunLuaCode(`
amp.on("state_changed", {device="living", property="power"}, function(ev)
  amp.log(ev.device .. " " .. ev.property .. " " .. tostring(ev.value))
end)`)
	if !res.OK || len(res.Logs) != 1 || res.Logs[0] != "living power true" {
		t.Errorf("result = %+v", res)
	}
}

func TestRunScript(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if res := e.RunScript("nope"); res.OK {
		t.Error("missing script should fail")
	}
	if _, err := e.manager.Save(&Script{ID: "hi", LuaCode: `amp.log("hi")`}); err != nil {
		t.Fatal(err)
	}
	if res := e.RunScript("hi"); !res.OK || len(res.Logs) != 1 {
		t.Errorf("result = %+v", res)
	}
}
