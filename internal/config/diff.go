package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProofreadChanged is true if any proofread setting changed. These are
	// applied without restart.
	ProofreadChanged bool
	NewProofread     ProofreadConfig

	// The fields below only take effect after a restart.
	ProvidersChanged  bool
	CheckLogChanged   bool
	MCPChanged        bool
	ListenAddrChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Proofread != new.Proofread {
		d.ProofreadChanged = true
		d.NewProofread = new.Proofread
	}
	if !providerEntryEqual(old.Providers.LLM, new.Providers.LLM) ||
		!slices.EqualFunc(old.Providers.Fallbacks, new.Providers.Fallbacks, providerEntryEqual) {
		d.ProvidersChanged = true
	}
	d.CheckLogChanged = old.CheckLog != new.CheckLog
	d.MCPChanged = old.MCP != new.MCP
	d.ListenAddrChanged = old.Server.ListenAddr != new.Server.ListenAddr

	return d
}

// RestartRequired returns the names of changed sections that only take
// effect after a restart.
func (d ConfigDiff) RestartRequired() []string {
	var out []string
	if d.ProvidersChanged {
		out = append(out, "providers")
	}
	if d.CheckLogChanged {
		out = append(out, "checklog")
	}
	if d.MCPChanged {
		out = append(out, "mcp")
	}
	if d.ListenAddrChanged {
		out = append(out, "server.listen_addr")
	}
	return out
}

// providerEntryEqual compares entries field by field. Options are compared
// shallowly by key and value.
func providerEntryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !optionEqual(av, bv) {
			return false
		}
	}
	return true
}

// optionEqual treats nested values that cannot be compared as changed.
func optionEqual(a, b any) bool {
	switch a.(type) {
	case map[string]any, []any:
		return false
	}
	switch b.(type) {
	case map[string]any, []any:
		return false
	}
	return a == b
}
