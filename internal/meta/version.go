package meta

import (
	"fmt"
	"runtime"
	"strings"
)

// Info describes the build context info for a rudis binary.
//
// It encapsulates a bunch of information that's included at build time
// by the Go linker. See the vars below for more information
//
type Info struct {
	Version   string `json:"version"`
	Build     string `json:"build,omitempty"`
	Branch    string `json:"branch,omitempty"`
	BuildTime string `json:"buildTime,omitempty"`
	Platform  string `json:"platform"`
	GoVersion string `json:"goVersion"`
	GoTag     string `json:"goTag,omitempty"`
}

// These will be filled in using the linker -X flag, e.g.
//
//   go build -ldflags "-X github.com/luma/rudis/internal/meta.Version=1.0.0"
//
var (
	// Version as an arbitrary string
	Version string

	// Build is the Git sha from when we are building
	Build string

	// Branch is the Git branch that we are building from
	Branch string

	// BuildTimeUTC is the build time in UTC (year/month/day hour:min:sec)
	BuildTimeUTC string

	// Go Tag is the Go build tags. See the following references for more info.
	//
	// * https://golang.org/pkg/go/build/#hdr-Build_Constraints
	// * https://dave.cheney.net/2013/10/12/how-to-use-conditional-compilation-with-the-go-build-tool
	//
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

const devVersion = "dev"

// GetInfo returns an Info struct populated with the build information.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   VersionString(),
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}

// VersionString returns Version, or "dev" for binaries built without one.
func VersionString() string {
	if Version == "" {
		return devVersion
	}

	return Version
}

// String renders the info the way `rudis version` prints it.
func (i Info) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "rudis %s", i.Version)
	if i.Build != "" {
		fmt.Fprintf(&b, " (%s", i.Build)
		if i.Branch != "" {
			fmt.Fprintf(&b, " on %s", i.Branch)
		}
		b.WriteString(")")
	}

	fmt.Fprintf(&b, "\n%s, %s", i.GoVersion, i.Platform)

	if i.BuildTime != "" {
		fmt.Fprintf(&b, "\nbuilt %s", i.BuildTime)
	}

	if i.GoTag != "" {
		fmt.Fprintf(&b, "\ntags %s", i.GoTag)
	}

	return b.String()
}
