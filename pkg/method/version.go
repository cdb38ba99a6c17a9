package method

import (
	"runtime/debug"

	"github.com/openproblems/dimred/pkg/umap"
)

// ModuleNotFound is returned by CheckVersion for modules absent from the build.
const ModuleNotFound = "ModuleNotFound"

// CheckVersion returns the version of the named Go module as linked into
// the running binary. The module providing package umap always reports
// umap.Version().
func CheckVersion(module string) string {
	if module == umap.ModulePath {
		return umap.Version()
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ModuleNotFound
	}
	if bi.Main.Path == module {
		return versionOrDevel(bi.Main.Version)
	}
	for _, dep := range bi.Deps {
		if dep.Path != module {
			continue
		}
		if dep.Replace != nil {
			dep = dep.Replace
		}
		return versionOrDevel(dep.Version)
	}
	return ModuleNotFound
}

func versionOrDevel(v string) string {
	if v == "" {
		return "(devel)"
	}
	return v
}
