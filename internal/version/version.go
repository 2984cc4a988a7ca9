// Package version carries build metadata set with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/eye3d/internal/version.Version=v0.3.0" ./cmd/eye3d
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats all three fields for logs and the health endpoint.
func String() string {
	sha := GitSHA
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, sha, BuildTime)
}
