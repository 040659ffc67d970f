package version

// Version is the current release version. It is set at build time using
// ldflags:
// -ldflags "-X github.com/driftlab/drift-trading/internal/version.Version=1.2.3"
// The default value "main" indicates a development build.
var Version = "main"

// GetVersion returns the current version.
func GetVersion() string {
	return Version
}
