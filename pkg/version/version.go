package version

import (
	"fmt"
	"os"
)

// Version is updated automatically as part of the build process
//
// DO NOT EDIT
var Version = undefinedVersion

const undefinedVersion = "undefined"

func init() {
	// Allow the version to be bound at container build time instead of at
	// executable link time to improve incremental rebuild efficiency.
	if Version == undefinedVersion {
		override := os.Getenv("SLOSCOPE_VERSION_OVERRIDE")
		if override != "" {
			Version = override
		}
	}
}

// UserAgent returns the value the CLI sends in its User-Agent header.
func UserAgent() string {
	return fmt.Sprintf("sloscope/%s", Version)
}
