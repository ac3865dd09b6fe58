package jailhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"poudctl/internal/executor"
)

// fakePoudriere simulates the poudriere binary: jail and ports create
// and destroy toggle marker directories that Exists and the listings see.
type fakePoudriere struct {
	layout Layout

	mu    sync.Mutex
	calls []string
	fail  map[string]bool // "jail -c", "ports -d", ...
	dirs  map[string]bool
}

func newFakePoudriere(layout Layout) *fakePoudriere {
	return &fakePoudriere{layout: layout, fail: map[string]bool{}, dirs: map[string]bool{}}
}

func (f *fakePoudriere) Run(_ context.Context, cmd executor.Command) (executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, strings.Join(cmd.Args, " "))
	if len(cmd.Args) < 2 {
		return executor.Result{}, nil
	}

	verb := cmd.Args[0] + " " + cmd.Args[1]
	if f.fail[verb] {
		return executor.Result{ExitCode: 1, Stderr: []byte("boom")},
			&executor.ExitError{Command: cmd.String(), ExitCode: 1, Stderr: "boom"}
	}

	name := flagValue(cmd.Args, "-j")
	if cmd.Args[0] == "ports" {
		name = flagValue(cmd.Args, "-p")
	}

	switch verb {
	case "jail -c":
		f.dirs[f.layout.JailMarkerPath(name)] = true
	case "jail -d":
		delete(f.dirs, f.layout.JailMarkerPath(name))
	case "ports -c":
		f.dirs[f.layout.PortsMarkerPath(name)] = true
	case "ports -d":
		delete(f.dirs, f.layout.PortsMarkerPath(name))
	case "jail -l":
		return executor.Result{Stdout: f.listing(filepath.Join(f.layout.BaseDir, "jails"))}, nil
	case "ports -l":
		return executor.Result{Stdout: f.listing(filepath.Join(f.layout.BaseDir, "ports"))}, nil
	}
	return executor.Result{}, nil
}

func (f *fakePoudriere) listing(parent string) []byte {
	var names []string
	for dir := range f.dirs {
		if filepath.Dir(dir) == parent {
			names = append(names, filepath.Base(dir))
		}
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("NAME VERSION\n")
	for _, n := range names {
		fmt.Fprintf(&b, "%s 13.2-RELEASE\n", n)
	}
	return []byte(b.String())
}

func (f *fakePoudriere) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirs[path] {
		return true, nil
	}
	_, err := os.Stat(path)
	return err == nil, nil
}

// callsMatching returns recorded invocations starting with prefix.
func (f *fakePoudriere) callsMatching(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// testLayout roots every managed path under dir.
func testLayout(dir string) Layout {
	return Layout{
		Tool:       "/usr/local/bin/poudriere",
		BaseDir:    filepath.Join(dir, "poudriere"),
		ConfigRoot: filepath.Join(dir, "etc", "poudriere.d"),
		EtcDir:     filepath.Join(dir, "etc"),
		CronDir:    filepath.Join(dir, "etc", "cron.d"),
		CronUser:   "root",
	}
}
