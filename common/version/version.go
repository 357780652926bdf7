// Package version carries build metadata, set at link time:
//
//	go build -ldflags "-X github.com/livebridge/livebridge/common/version.Version=v1.0.0"
package version

var (
	Version   = "untracked"
	CommitSHA = "untracked"
	BuildTime = "unknown"
)
