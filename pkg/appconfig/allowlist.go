package appconfig

import "github.com/morezero/desktop-bridge/pkg/envelope"

// Allowlist answers whether a module command may be invoked.
type Allowlist struct {
	all     bool
	modules map[envelope.Module]map[string]bool
}

// NewAllowlist builds a lookup table from cfg.
func NewAllowlist(cfg AllowlistConfig) *Allowlist {
	a := &Allowlist{all: cfg.All, modules: make(map[envelope.Module]map[string]bool, len(cfg.Modules))}
	for module, cmds := range cfg.Modules {
		set := make(map[string]bool, len(cmds))
		for _, c := range cmds {
			set[c] = true
		}
		a.modules[envelope.Module(module)] = set
	}
	return a
}

// Allowed implements router.Allowlist.
func (a *Allowlist) Allowed(module envelope.Module, cmd string) bool {
	if a.all {
		return true
	}
	set, ok := a.modules[module]
	if !ok {
		return false
	}
	return set["*"] || set[cmd]
}
