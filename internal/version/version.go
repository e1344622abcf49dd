package version

import "github.com/fatih/color"

// Version information for the mkoffload driver.
// These variables can be overridden at build time via -ldflags.

var (
	versionMajorColor = color.New(color.FgYellow, color.Bold)
	versionMinorColor = color.New(color.FgGreen, color.Bold)
	versionPatchColor = color.New(color.FgBlue, color.Bold)

	// Version is the semantic version of the driver.
	Version = versionMajorColor.Sprint("0") + "." + versionMinorColor.Sprint("3") + "." + versionPatchColor.Sprint("0") + "-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// GitMessage is an optional git commit subject.
	GitMessage = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""

	// ToolName prefixes every diagnostic the driver prints.
	ToolName = "mkoffload"
)

// Plain returns Version with terminal color sequences removed.
func Plain() string {
	out := make([]byte, 0, len(Version))
	for i := 0; i < len(Version); i++ {
		if Version[i] == 0x1b {
			for i < len(Version) && Version[i] != 'm' {
				i++
			}
			continue
		}
		out = append(out, Version[i])
	}
	return string(out)
}
