package common

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Build metadata. Release builds set these with -ldflags "-X ...".
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// versionFiles are tried in order next to the server binary.
var versionFiles = []string{"pricecache.version", ".version"}

// BuildInfo is the build metadata served by /api/version.
type BuildInfo struct {
	Version string `json:"version"`
	Build   string `json:"build"`
	Commit  string `json:"commit"`
}

// GetBuildInfo returns the current build metadata.
func GetBuildInfo() BuildInfo {
	return BuildInfo{Version: Version, Build: Build, Commit: GitCommit}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", b.Version, b.Build, b.Commit)
}

// LoadVersionFromFile fills build metadata that ldflags left at its defaults
// from the first version file found in dir. Lines are "key: value" or
// "key=value"; recognised keys are version, build and commit (or git_commit).
func LoadVersionFromFile(dir string) {
	for _, name := range versionFiles {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		applyVersionInfo(f)
		f.Close()
		return
	}
}

func applyVersionInfo(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sep := strings.IndexAny(line, ":=")
		if sep < 0 {
			continue
		}
		key := line[:sep]
		val := strings.Trim(strings.TrimSpace(line[sep+1:]), `"`)
		if val == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "version":
			if Version == "dev" {
				Version = val
			}
		case "build":
			if Build == "unknown" {
				Build = val
			}
		case "commit", "git_commit":
			if GitCommit == "unknown" {
				GitCommit = val
			}
		}
	}
}
