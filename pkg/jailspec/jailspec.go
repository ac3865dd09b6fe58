// Package jailspec defines the declarative types shared by the manifest
// loader, the reconciler and the API: what a poudriere build jail and a
// ports tree should look like on the host.
package jailspec

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// DefaultPortsTree is the ports tree a jail builds against when none is given.
const DefaultPortsTree = "default"

// LegacyPortsTreeAlias is the misspelled default older manifests carried.
const LegacyPortsTreeAlias = "defaut"

var (
	ErrInvalidSpec             = errors.New("invalid jail spec")
	ErrConflictingBuildOptions = errors.New("makefile cannot be combined with makeopts or pkg_makeopts")
)

// Ensure is the desired lifecycle state of a managed resource.
type Ensure string

const (
	EnsurePresent Ensure = "present"
	EnsureAbsent  Ensure = "absent"
)

func (e Ensure) String() string {
	return string(e)
}

// ParseEnsure accepts "present", "absent" or the empty string (present).
func ParseEnsure(s string) (Ensure, error) {
	switch Ensure(strings.ToLower(strings.TrimSpace(s))) {
	case "", EnsurePresent:
		return EnsurePresent, nil
	case EnsureAbsent:
		return EnsureAbsent, nil
	default:
		return "", fmt.Errorf("%w: ensure must be present or absent, got %q", ErrInvalidSpec, s)
	}
}

// supportedArches lists the values poudriere accepts for "jail -a".
var supportedArches = map[string]bool{
	"amd64":               true,
	"i386":                true,
	"arm64":               true,
	"arm64.aarch64":       true,
	"armv6":               true,
	"armv7":               true,
	"arm.armv6":           true,
	"arm.armv7":           true,
	"powerpc64":           true,
	"powerpc.powerpc64":   true,
	"powerpc64le":         true,
	"powerpc.powerpc64le": true,
	"riscv64":             true,
	"riscv.riscv64":       true,
}

// ValidArch reports whether arch is a supported cross-build target.
// The empty string means "host architecture" and is valid.
func ValidArch(arch string) bool {
	return arch == "" || supportedArches[arch]
}

// CronSettings controls the periodic bulk build of a jail.
type CronSettings struct {
	Enable     bool
	AlwaysMail bool
	Schedule   CronSchedule
}

// JailSpec is the desired state of one poudriere build jail.
type JailSpec struct {
	Name         string // manifest key
	JailName     string // poudriere jail name; defaults to Name
	Version      string
	Ensure       Ensure
	Arch         string
	BuildOptions BuildOptions
	Packages     PackageSource
	OptionsDir   string
	PortsTree    string
	ParallelJobs int
	Cron         CronSettings
}

// EffectiveJailName returns the name poudriere knows the jail by.
func (s JailSpec) EffectiveJailName() string {
	if s.JailName != "" {
		return s.JailName
	}
	return s.Name
}

// WithDefaults fills unset optional fields.
func (s JailSpec) WithDefaults() JailSpec {
	if s.Ensure == "" {
		s.Ensure = EnsurePresent
	}
	if s.PortsTree == "" {
		s.PortsTree = DefaultPortsTree
	}
	if s.ParallelJobs == 0 {
		s.ParallelJobs = runtime.NumCPU()
	}
	s.Cron.Schedule = s.Cron.Schedule.WithDefaults()
	if s.BuildOptions == nil {
		s.BuildOptions = InlineOptions{}
	}
	return s
}

// Validate reports whether the spec can be planned. It does not
// touch the filesystem.
func (s JailSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if strings.ContainsAny(s.EffectiveJailName(), "/ \t\n") {
		return fmt.Errorf("%w: jail name %q contains a path separator or whitespace", ErrInvalidSpec, s.EffectiveJailName())
	}
	if strings.TrimSpace(s.Version) == "" {
		return fmt.Errorf("%w: jail %s: version is required", ErrInvalidSpec, s.Name)
	}
	if _, err := ParseEnsure(string(s.Ensure)); err != nil {
		return fmt.Errorf("jail %s: %w", s.Name, err)
	}
	if !ValidArch(s.Arch) {
		return fmt.Errorf("%w: jail %s: unsupported arch %q", ErrInvalidSpec, s.Name, s.Arch)
	}
	if s.ParallelJobs < 1 {
		return fmt.Errorf("%w: jail %s: parallel_jobs must be positive, got %d", ErrInvalidSpec, s.Name, s.ParallelJobs)
	}
	if err := s.Cron.Schedule.Validate(); err != nil {
		return fmt.Errorf("jail %s: %w", s.Name, err)
	}
	if ref, ok := s.BuildOptions.(MakefileRef); ok && strings.TrimSpace(ref.Path) == "" {
		return fmt.Errorf("%w: jail %s: makefile path is empty", ErrInvalidSpec, s.Name)
	}
	return nil
}

// PortsTreeSpec is the desired state of one poudriere ports tree.
type PortsTreeSpec struct {
	Name        string
	Ensure      Ensure
	FetchMethod string
	Branch      string
}

// Validate checks the ports tree declaration.
func (p PortsTreeSpec) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: ports tree name is required", ErrInvalidSpec)
	}
	if strings.ContainsAny(p.Name, "/ \t\n") {
		return fmt.Errorf("%w: ports tree name %q contains a path separator or whitespace", ErrInvalidSpec, p.Name)
	}
	if _, err := ParseEnsure(string(p.Ensure)); err != nil {
		return fmt.Errorf("ports tree %s: %w", p.Name, err)
	}
	return nil
}
