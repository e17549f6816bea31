package testutil

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Layer is a group of backend packages, identified by import-path prefix,
// that only its owners may import. Packages inside the layer may import each
// other.
type Layer struct {
	Name   string
	Prefix string
	Owners []string
}

func (l Layer) contains(path string) bool {
	return underPrefix(path, l.Prefix)
}

func (l Layer) ownedBy(path string) bool {
	for _, o := range l.Owners {
		if underPrefix(path, o) {
			return true
		}
	}
	return false
}

func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// AssertLayering loads the non-test packages matching pattern and fails if
// any of them imports a layer it does not own.
func AssertLayering(t testing.TB, pattern string, layers ...Layer) {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	imports := make(map[string][]string, len(pkgs))
	for _, pkg := range pkgs {
		for ip := range pkg.Imports {
			imports[pkg.PkgPath] = append(imports[pkg.PkgPath], ip)
		}
	}
	failIf(t, "layer imported outside its owners", pattern, layeringViolations(imports, layers))
}

func layeringViolations(imports map[string][]string, layers []Layer) []string {
	var viols []string
	for pkg, deps := range imports {
		for _, l := range layers {
			if l.contains(pkg) || l.ownedBy(pkg) {
				continue
			}
			for _, dep := range deps {
				if l.contains(dep) {
					viols = append(viols, l.Name+": "+pkg+" imports "+dep)
				}
			}
		}
	}
	sort.Strings(viols)
	return viols
}
