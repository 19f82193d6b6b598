//go:build !no_automation

package automation

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Devices limits event delivery to these amplifier ids. Empty means all.
	Devices []string `json:"devices,omitempty"`
	Enabled bool     `json:"enabled"`
}

// Script represents a single automation script stored on disk.
type Script struct {
	ID       string     `json:"id"` // filename stem (no .lua)
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// watches reports whether events from device should reach the script.
func (m ScriptMeta) watches(device string) bool {
	if len(m.Devices) == 0 {
		return true
	}
	for _, d := range m.Devices {
		if d == device {
			return true
		}
	}
	return false
}
