package version

import (
	"runtime/debug"
	"strings"
)

func init() {
	fixBuild = revisionFromBuildInfo
	buildInfo = dependencyList
}

// revisionFromBuildInfo replaces an unexpanded "$Id$" build with the VCS
// revision the binary was built from.
func revisionFromBuildInfo(v *Version) {
	if !strings.HasPrefix(v.Build, "$Id$") {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	for _, key := range []string{"vcs.revision", "gitrevision"} {
		if rev := settings[key]; rev != "" {
			v.Build = rev
			return
		}
	}
}

// dependencyList describes the main module and every dependency linked
// into the binary, one per line.
func dependencyList() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "not built in module mode"
	}
	var sb strings.Builder
	line := func(kind string, m *debug.Module) {
		sb.WriteString(" " + kind + "\t" + m.Path + "\t" + m.Version + "\t" + m.Sum)
		if m.Replace != nil {
			sb.WriteString("\t=> " + m.Replace.Path + "\t" + m.Replace.Version + "\t" + m.Replace.Sum)
		}
		sb.WriteByte('\n')
	}
	line("mod", &info.Main)
	for _, dep := range info.Deps {
		line("dep", dep)
	}
	return sb.String()
}
