package jailspec

import (
	"sort"
	"strings"
)

// BuildOptions is where a jail's make.conf comes from: either inline
// options rendered by poudctl or a file copied verbatim. The two are
// mutually exclusive, so the type only admits one of them.
type BuildOptions interface {
	buildOptions()
}

// PackageOptions are make options applied to a single port origin.
type PackageOptions struct {
	Origin  string
	Options []string
}

// InlineOptions renders make.conf from global and per-package options.
type InlineOptions struct {
	MakeOpts    []string
	PkgMakeOpts []PackageOptions // sorted by Origin
}

// MakefileRef copies an existing make.conf verbatim.
type MakefileRef struct {
	Path string
}

func (InlineOptions) buildOptions() {}
func (MakefileRef) buildOptions()   {}

// NewBuildOptions builds the variant from the three loosely typed
// manifest fields. Setting makefile together with any inline option is
// ErrConflictingBuildOptions.
func NewBuildOptions(makeopts []string, pkgMakeopts map[string][]string, makefile string) (BuildOptions, error) {
	makefile = strings.TrimSpace(makefile)
	if makefile != "" {
		if len(makeopts) > 0 || len(pkgMakeopts) > 0 {
			return nil, ErrConflictingBuildOptions
		}
		return MakefileRef{Path: makefile}, nil
	}

	origins := make([]string, 0, len(pkgMakeopts))
	for origin := range pkgMakeopts {
		origins = append(origins, origin)
	}
	sort.Strings(origins)

	pkgOpts := make([]PackageOptions, 0, len(origins))
	for _, origin := range origins {
		pkgOpts = append(pkgOpts, PackageOptions{Origin: origin, Options: pkgMakeopts[origin]})
	}

	return InlineOptions{MakeOpts: makeopts, PkgMakeOpts: pkgOpts}, nil
}

// PackageSource is where a jail's package list comes from. When File is
// set it is copied verbatim and Names is ignored.
type PackageSource struct {
	Names []string
	File  string
}

// FromFile reports whether the list is copied from a file.
func (p PackageSource) FromFile() bool {
	return strings.TrimSpace(p.File) != ""
}
