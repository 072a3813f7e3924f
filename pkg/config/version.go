// Package config provides build information and typed runtime settings for LogNexus.
package config

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/good-yellow-bee/lognexus/pkg/config.Version=v1.2.0 ..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns the build information of this binary.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// VersionString formats the build information for binary, e.g.
// "lognexus-agent v1.2.0 (abc123, linux/amd64) built 2026-01-01".
func VersionString(binary string) string {
	bi := GetBuildInfo()
	return fmt.Sprintf("%s %s (%s, %s) built %s with %s",
		binary, bi.Version, shortCommit(bi.Commit), bi.Platform, bi.BuildTime, bi.GoVersion)
}

// UserAgent is the HTTP User-Agent the agent and CLI send.
func UserAgent(binary string) string {
	return fmt.Sprintf("%s/%s (%s/%s)", binary, Version, runtime.GOOS, runtime.GOARCH)
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
