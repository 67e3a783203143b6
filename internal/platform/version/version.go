// Package version holds build-time identity shared by both binaries.
package version

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Version, Build, and GitCommit are injected at build time via -ldflags.
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// Full formats the three fields into one string for log lines and the
// /version handler.
func Full() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", Version, Build, GitCommit)
}

// LoadFromFile fills in Version/Build from a .version file beside the
// running executable, but only where ldflags left a field at its default
// — so a real release build is never overridden by a stale sidecar file.
func LoadFromFile() {
	exe, err := os.Executable()
	if err != nil {
		return
	}

	f, err := os.Open(filepath.Join(filepath.Dir(exe), ".version"))
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		switch key {
		case "version":
			if Version == "dev" {
				Version = val
			}
		case "build":
			if Build == "unknown" {
				Build = val
			}
		}
	}
}
