// Package version carries linker-stamped build metadata for the faucet binaries.
package version

import (
	"runtime/debug"
	"strconv"
)

// AppName labels build info, traces and profiles.
const AppName = "linnemanlabs-faucet"

// Set with -ldflags "-X github.com/keithlinneman/linnemanlabs-faucet/internal/version.Version=..."
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// String is a one-line summary for -V output.
func (i Info) String() string {
	s := AppName + " " + i.Version + " (" + shortCommit(i.Commit)
	if i.VCSDirty != nil && *i.VCSDirty {
		s += ", dirty"
	}
	if i.BuildDate != "" {
		s += ", built " + i.BuildDate
	}
	return s + ", " + i.GoVersion + ")"
}

// Dirty reports the tri-state VCS flag as a plain bool.
func (i Info) Dirty() bool {
	return i.VCSDirty != nil && *i.VCSDirty
}

// Get merges linker-provided values with the module build info.
func Get() Info {
	out := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if out.GoVersion == "" {
			out.GoVersion = bi.GoVersion
		}
		applySettings(&out, bi.Settings)
	}
	return out
}

// applySettings fills fields the linker left unset from the vcs.* build settings.
// Linker values always win.
func applySettings(out *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "" || out.Commit == "none" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.CommitDate == "" {
				out.CommitDate = s.Value
			}
		case "vcs.modified":
			if out.VCSDirty != nil {
				continue
			}
			if b, err := strconv.ParseBool(s.Value); err == nil {
				out.VCSDirty = &b
			}
		}
	}
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
