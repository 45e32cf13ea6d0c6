package version

import "fmt"

// Set at build time with -ldflags "-X github.com/ggonzalez94/xbridge/internal/version.CLIVersion=...".
var (
	CLIName    = "xbridge"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", CLIName, CLIVersion, Commit, BuildDate)
}
