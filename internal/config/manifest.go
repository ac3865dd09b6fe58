// Package config loads the poudctl manifest and runtime settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"poudctl/internal/jailhouse"
	"poudctl/pkg/jailspec"
)

// ErrManifest wraps every manifest read or decode failure.
var ErrManifest = errors.New("invalid manifest")

// Manifest is the declarative description of a poudriere host.
type Manifest struct {
	Global     map[string]string    `yaml:"global" toml:"global"`
	PortsTrees []PortsTreeEntry     `yaml:"portstrees" toml:"portstrees"`
	Jails      map[string]JailEntry `yaml:"jails" toml:"jails"`

	// relative paths in entries resolve against this directory
	baseDir string
}

// PortsTreeEntry declares one ports tree.
type PortsTreeEntry struct {
	Name        string `yaml:"name" toml:"name"`
	Ensure      string `yaml:"ensure" toml:"ensure"`
	FetchMethod string `yaml:"fetch_method" toml:"fetch_method"`
	Branch      string `yaml:"branch" toml:"branch"`
}

// JailEntry declares one build jail, keyed by name in Manifest.Jails.
type JailEntry struct {
	JailName     string              `yaml:"jail_name" toml:"jail_name"`
	Version      string              `yaml:"version" toml:"version"`
	Ensure       string              `yaml:"ensure" toml:"ensure"`
	Arch         string              `yaml:"arch" toml:"arch"`
	MakeOpts     []string            `yaml:"makeopts" toml:"makeopts"`
	PkgMakeOpts  map[string][]string `yaml:"pkg_makeopts" toml:"pkg_makeopts"`
	Makefile     string              `yaml:"makefile" toml:"makefile"`
	Packages     []string            `yaml:"packages" toml:"packages"`
	PackageFile  string              `yaml:"package_file" toml:"package_file"`
	OptionsDir   string              `yaml:"options_dir" toml:"options_dir"`
	PortsTree    string              `yaml:"portstree" toml:"portstree"`
	ParallelJobs int                 `yaml:"parallel_jobs" toml:"parallel_jobs"`
	Cron         CronEntry           `yaml:"cron" toml:"cron"`
}

// CronEntry configures the scheduled bulk build.
type CronEntry struct {
	Enable     bool                  `yaml:"enable" toml:"enable"`
	AlwaysMail bool                  `yaml:"always_mail" toml:"always_mail"`
	Schedule   jailspec.CronSchedule `yaml:"schedule" toml:"schedule"`
}

// LoadManifest reads a manifest. Files ending in .toml are decoded as
// TOML, everything else as YAML. Unknown keys are rejected.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrManifest, path, err)
	}

	var m Manifest
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		meta, err := toml.Decode(string(data), &m)
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrManifest, path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: %s: unknown key %s", ErrManifest, path, undecoded[0])
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// an empty document decodes to io.EOF
		if err := dec.Decode(&m); err != nil && len(bytes.TrimSpace(data)) > 0 {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrManifest, path, err)
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	m.baseDir = filepath.Dir(abs)
	return &m, nil
}

// JailNames returns the declared jail names, sorted.
func (m *Manifest) JailNames() []string {
	names := lo.Keys(m.Jails)
	sort.Strings(names)
	return names
}

// Desired converts the manifest into typed specs. Conflicting build
// options are reported here, before anything is planned.
func (m *Manifest) Desired() (jailhouse.Desired, error) {
	desired := jailhouse.Desired{Global: m.Global}

	for _, entry := range m.PortsTrees {
		ensure, err := jailspec.ParseEnsure(entry.Ensure)
		if err != nil {
			return jailhouse.Desired{}, fmt.Errorf("ports tree %s: %w", entry.Name, err)
		}
		desired.PortsTrees = append(desired.PortsTrees, jailspec.PortsTreeSpec{
			Name:        entry.Name,
			Ensure:      ensure,
			FetchMethod: entry.FetchMethod,
			Branch:      entry.Branch,
		})
	}

	for _, name := range m.JailNames() {
		spec, err := m.jailSpec(name, m.Jails[name])
		if err != nil {
			return jailhouse.Desired{}, fmt.Errorf("jail %s: %w", name, err)
		}
		desired.Jails = append(desired.Jails, spec)
	}
	return desired, nil
}

func (m *Manifest) jailSpec(name string, entry JailEntry) (jailspec.JailSpec, error) {
	ensure, err := jailspec.ParseEnsure(entry.Ensure)
	if err != nil {
		return jailspec.JailSpec{}, err
	}

	opts, err := jailspec.NewBuildOptions(entry.MakeOpts, entry.PkgMakeOpts, m.resolve(entry.Makefile))
	if err != nil {
		return jailspec.JailSpec{}, err
	}

	return jailspec.JailSpec{
		Name:         name,
		JailName:     entry.JailName,
		Version:      entry.Version,
		Ensure:       ensure,
		Arch:         entry.Arch,
		BuildOptions: opts,
		Packages: jailspec.PackageSource{
			Names: entry.Packages,
			File:  m.resolve(entry.PackageFile),
		},
		OptionsDir:   m.resolve(entry.OptionsDir),
		PortsTree:    entry.PortsTree,
		ParallelJobs: entry.ParallelJobs,
		Cron: jailspec.CronSettings{
			Enable:     entry.Cron.Enable,
			AlwaysMail: entry.Cron.AlwaysMail,
			Schedule:   entry.Cron.Schedule,
		},
	}, nil
}

func (m *Manifest) resolve(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) || m.baseDir == "" {
		return path
	}
	return filepath.Join(m.baseDir, path)
}
