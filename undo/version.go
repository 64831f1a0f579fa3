package undo

import internal "github.com/kolkov/undotx/internal/undo/api"

// Version information for the undo runtime.
const (
	// Version is the current version of the undo runtime.
	Version = "0.1.0"

	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 0
)

// Info provides runtime information.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Granularity is the unit of declaration and restoration.
	Granularity string

	// Options is the active configuration in UNDOTX_OPTIONS syntax.
	Options string

	// Enabled indicates whether the runtime is active.
	Enabled bool
}

// GetInfo returns information about the runtime.
//
// Example:
//
//	info := undo.GetInfo()
//	fmt.Printf("undotx %s (%s)\n", info.Version, info.Options)
func GetInfo() Info {
	return Info{
		Version:     Version,
		Granularity: "byte",
		Options:     internal.CurrentConfig().String(),
		Enabled:     internal.Enabled(),
	}
}
