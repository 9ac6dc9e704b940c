package server

import (
	"encoding/json"
	"sort"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
)

// ArgMetadata describes one configurable server argument for front-end
// settings forms. The table itself is static; callers see only the entries
// whose names appear in the default args.
type ArgMetadata struct {
	Name        string `json:"name"`
	Flag        string `json:"flag"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

var argsMetadata = []ArgMetadata{
	{Name: "address", Flag: "--address", Type: "string", Description: "IP address to listen on"},
	{Name: "port", Flag: "--port", Type: "number", Description: "Port to listen on"},
	{Name: "base_path", Flag: "--base-path", Type: "string", Description: "Base path prefix for the server API"},
	{Name: "log_level", Flag: "--log-level", Type: "string", Description: "Log level for server output"},
	{Name: "session_override", Flag: "--session-override", Type: "boolean", Description: "Allow new sessions to replace existing ones"},
	{Name: "relaxed_security", Flag: "--relaxed-security", Type: "boolean", Description: "Disable security checks for trusted environments"},
	{Name: "default_capabilities", Flag: "--default-capabilities", Type: "object", Description: "Capabilities merged into every session"},
	// Retained for older front-ends; no matching default arg, so filtered out.
	{Name: "callback_address", Flag: "--callback-address", Type: "string", Description: "Callback IP address"},
	{Name: "callback_port", Flag: "--callback-port", Type: "number", Description: "Callback port"},
}

// DefaultArgs returns the default configuration as a flat map, suitable for
// pre-populating a settings form. Degenerate entries (an empty default
// capability map) are absent.
func DefaultArgs() map[string]any {
	return Config{}.normalized().argsMap()
}

// ArgsMetadata returns metadata only for arguments present in DefaultArgs,
// sorted by name.
func ArgsMetadata() []ArgMetadata {
	defaults := DefaultArgs()
	out := make([]ArgMetadata, 0, len(argsMetadata))
	for _, meta := range argsMetadata {
		if _, ok := defaults[meta.Name]; ok {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// argsMap flattens a config for diagnostics and the settings form. Nil
// default capabilities stay absent.
func (c Config) argsMap() map[string]any {
	args := map[string]any{
		"address":          c.Address,
		"port":             c.Port,
		"log_level":        c.LogLevel,
		"session_override": c.SessionOverride,
		"relaxed_security": c.RelaxedSecurity,
	}
	if c.BasePath != "" {
		args["base_path"] = c.BasePath
	}
	if len(c.DefaultCapabilities) > 0 {
		args["default_capabilities"] = c.DefaultCapabilities
	}
	return args
}

func capabilitiesJSON(caps automation.Capabilities) string {
	data, err := json.Marshal(caps)
	if err != nil {
		return "{}"
	}
	return string(data)
}
