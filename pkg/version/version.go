package version

// Set at build time, e.g.
// -ldflags "-X 'github.com/capsulehq/capsule/pkg/version.Version=v1.0.0'".
var (
	Version    = "unknown"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// Info is the build identity reported by the health probe.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildDate  string `json:"build_date"`
}

func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildDate:  BuildDate,
	}
}

// GetVersion returns the bare version string for CLI display.
func GetVersion() string {
	return Version
}
