// Package config defines the format-agnostic description of a simulation:
// the host loop settings, the computer families, the computers themselves,
// the wired network they sit on and the events fed to them.
//
// The `config.Model` is the single source of truth for the `app` package.
// Concrete loaders, such as the HCL one, live in separate packages.
package config
