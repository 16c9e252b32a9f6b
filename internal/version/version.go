// Package version holds build metadata stamped by -ldflags, filled in from
// the embedded VCS settings when a field was not stamped.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
)

const AppName = "linnemanlabs-cms"

// Set with -ldflags "-X github.com/keithlinneman/linnemanlabs-cms/internal/version.Version=..."
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildID    string
)

// Info is served on the ops listener at /-/version and exported as the
// build_info metric.
type Info struct {
	App        string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	BuildID    string `json:"build_id,omitempty"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Get returns the stamped values merged with the binary's build info.
func Get() Info {
	info := Info{
		App:        AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildID:    BuildID,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = merge(info, bi)
	}
	return info
}

// merge fills unstamped fields from bi. Stamped values always win.
func merge(info Info, bi *debug.BuildInfo) Info {
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" || info.Commit == "none" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.CommitDate == "" {
				info.CommitDate = s.Value
			}
			if info.BuildDate == "" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			if b, err := strconv.ParseBool(s.Value); err == nil {
				info.VCSDirty = &b
			}
		}
	}
	return info
}

// Dirty reports whether the binary was built from a modified tree.
func (i Info) Dirty() bool { return i.VCSDirty != nil && *i.VCSDirty }

// String is the -V output.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)",
		i.App, i.Version, i.Commit, i.CommitDate, i.BuildID, i.BuildDate, i.GoVersion, i.Dirty())
}
