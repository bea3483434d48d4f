// Package appconfig loads the application description: package metadata,
// the windows to open at startup, the command allowlist and the updater.
package appconfig

import (
	"time"

	"github.com/morezero/desktop-bridge/pkg/window"
)

// Config is the root of app.yaml.
type Config struct {
	Package   PackageConfig    `yaml:"package"`
	Windows   []window.Options `yaml:"windows"`
	Allowlist AllowlistConfig  `yaml:"allowlist"`
	Updater   UpdaterConfig    `yaml:"updater"`
}

// PackageConfig names the application.
type PackageConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// AllowlistConfig lists the commands the frontend may invoke. A module
// mapped to "*" allows all of its commands. All allows everything.
type AllowlistConfig struct {
	All     bool                `yaml:"all"`
	Modules map[string][]string `yaml:"modules"`
}

// UpdaterConfig configures release checks.
type UpdaterConfig struct {
	Active     bool              `yaml:"active"`
	Endpoints  []string          `yaml:"endpoints"`
	Target     string            `yaml:"target"`
	Constraint string            `yaml:"constraint"`
	Timeout    time.Duration     `yaml:"timeout"`
	Headers    map[string]string `yaml:"headers"`
}
