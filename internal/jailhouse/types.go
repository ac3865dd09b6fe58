// Package jailhouse turns declared poudriere jails and ports trees into
// ordered, idempotent operations and applies them to the host.
//
// Planning is pure: a Reconciler only describes what should happen. The
// Applier executes a plan, and the Manager runs whole manifests while
// keeping persisted per-jail state.
package jailhouse

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"poudctl/internal/executor"
	"poudctl/pkg/jailspec"
)

// LifecycleTimeout bounds jail and ports tree create/destroy; creating a
// jail may fetch and extract a whole base system.
const LifecycleTimeout = time.Hour

// Layout holds the tool and filesystem locations poudctl manages.
type Layout struct {
	Tool       string // /usr/local/bin/poudriere
	BaseDir    string // /usr/local/poudriere
	ConfigRoot string // /usr/local/etc/poudriere.d
	EtcDir     string // /usr/local/etc
	CronDir    string // /usr/local/etc/cron.d
	CronUser   string // root

	// Container is the builder container poudriere runs in, empty when
	// it runs on this host. ConfigRoot and EtcDir must then be
	// bind-mounted into the container at the same paths, and scheduled
	// builds go through DockerCLI exec.
	Container     string
	ContainerUser string
	DockerCLI     string
}

// DefaultLayout returns the stock FreeBSD locations.
func DefaultLayout() Layout {
	return Layout{
		Tool:       "/usr/local/bin/poudriere",
		BaseDir:    "/usr/local/poudriere",
		ConfigRoot: "/usr/local/etc/poudriere.d",
		EtcDir:     "/usr/local/etc",
		CronDir:    "/usr/local/etc/cron.d",
		CronUser:   "root",
	}
}

func (l Layout) MakeConfPath(jail string) string {
	return filepath.Join(l.ConfigRoot, jail+"-make.conf")
}

func (l Layout) PackageListPath(jail string) string {
	return filepath.Join(l.ConfigRoot, jail+".list")
}

func (l Layout) OptionsDirPath(jail string) string {
	return filepath.Join(l.ConfigRoot, jail+"-options")
}

func (l Layout) CronEntryName(jail string) string {
	return "poudriere-bulk-" + jail
}

func (l Layout) CronPath(jail string) string {
	return filepath.Join(l.CronDir, l.CronEntryName(jail))
}

func (l Layout) PoudriereConfPath() string {
	return filepath.Join(l.EtcDir, "poudriere.conf")
}

// JailMarkerPath is the directory poudriere creates for a jail. Its
// existence means the jail was already created.
func (l Layout) JailMarkerPath(jail string) string {
	return filepath.Join(l.BaseDir, "jails", strings.ReplaceAll(jail, ":", "_"))
}

// PortsMarkerPath is the directory poudriere creates for a ports tree.
func (l Layout) PortsMarkerPath(tree string) string {
	return filepath.Join(l.BaseDir, "ports", tree)
}

// OpKind identifies how an Operation is applied.
type OpKind string

const (
	OpExec      OpKind = "exec"
	OpFile      OpKind = "file"
	OpDirectory OpKind = "directory"
	OpCron      OpKind = "cron"
)

// Query is a precondition: run Command and look for a line whose first
// field equals Match.
type Query struct {
	Command executor.Command
	Match   string
}

// Guard decides whether an exec operation needs to run at all.
type Guard struct {
	Creates string // skip when this path exists
	OnlyIf  *Query // skip unless the query matches
}

// Operation is one keyed, idempotent resource description.
type Operation struct {
	Key      string
	Kind     OpKind
	Requires []string

	// exec
	Command executor.Command
	Guard   Guard
	Timeout time.Duration

	// file, directory and cron
	Ensure  jailspec.ResourceState
	Path    string
	Content []byte // rendered content
	Source  string // copy this file or directory verbatim instead
	Mode    os.FileMode
	Recurse bool
	Purge   bool
}

// Plan is the ordered operation set for one declared subject.
type Plan struct {
	Subject    string
	Operations []Operation
	Warnings   []jailspec.Warning
}

// Operation returns the operation with key, if present.
func (p *Plan) Operation(key string) (Operation, bool) {
	for _, op := range p.Operations {
		if op.Key == key {
			return op, true
		}
	}
	return Operation{}, false
}
