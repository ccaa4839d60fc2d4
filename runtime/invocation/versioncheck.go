package invocation

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// NoCheckVersion bypasses version-match comparison entirely (spec
// §4.4: "a special version string 'no_check' bypasses the comparison").
const NoCheckVersion = "no_check"

var (
	gnuVersionRe = regexp.MustCompile(`\d+\.[0-9.]+`)
	clVersionRe  = regexp.MustCompile(`\d+\.\d+\.\d+\.\d+ for \w+`)
)

// VersionMap maps a configured tool id to its detected version string.
type VersionMap map[string]string

// VersionChecker probes locally-configured compilers for their version
// string, grounded on the original VersionChecker.cpp.
type VersionChecker struct {
	runner func(ctx context.Context, executable string, args ...string) (string, error)
}

// NewVersionChecker returns a VersionChecker that shells out via
// os/exec. Tests may construct one directly with a stub runner.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{runner: runCommand}
}

func runCommand(ctx context.Context, executable string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, executable, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// DetectVersion runs the probe command for kind against executablePath
// and extracts a version with the kind-appropriate regex. An Unknown
// kind or a probe failure yields "".
func (v *VersionChecker) DetectVersion(ctx context.Context, executablePath string, kind ToolKind) string {
	if kind == KindUnknown {
		return ""
	}

	var args []string
	switch kind {
	case KindClang:
		args = []string{"--version"}
	case KindGCC:
		args = []string{"-dumpfullversion", "-dumpversion"}
	case KindMSVC:
		args = nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, _ := v.runner(ctx, executablePath, args...)

	re := gnuVersionRe
	if kind == KindMSVC {
		re = clVersionRe
	}
	return strings.TrimSpace(re.FindString(out))
}

// ConfiguredTool pairs a tool id with an optional pinned version
// (empty means "detect it") and the path to probe.
type ConfiguredTool struct {
	ToolId         string
	ExecutablePath string
	PinnedVersion  string
}

// DetermineToolVersions builds a VersionMap for the given tools,
// skipping detection for any tool with a non-empty PinnedVersion
// (including NoCheckVersion), mirroring
// VersionChecker::DetermineToolVersions.
func (v *VersionChecker) DetermineToolVersions(ctx context.Context, tools []ConfiguredTool) VersionMap {
	result := make(VersionMap, len(tools))
	for _, t := range tools {
		if t.PinnedVersion != "" {
			result[t.ToolId] = t.PinnedVersion
			continue
		}
		if t.ExecutablePath == "" {
			result[t.ToolId] = ""
			continue
		}
		kind := GuessToolKind(t.ExecutablePath)
		result[t.ToolId] = v.DetectVersion(ctx, t.ExecutablePath, kind)
	}
	return result
}

// Matches reports whether a server's reported version is compatible
// with the client's expected version for the same tool id. NoCheckVersion
// on either side always matches (spec §4.4).
func Matches(clientVersion, serverVersion string) bool {
	if clientVersion == NoCheckVersion || serverVersion == NoCheckVersion {
		return true
	}
	return clientVersion == serverVersion
}
