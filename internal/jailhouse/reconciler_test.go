package jailhouse

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poudctl/internal/executor"
	"poudctl/pkg/jailspec"
)

var defaultTrees = []jailspec.PortsTreeSpec{{Name: "default"}}

func presentSpec() jailspec.JailSpec {
	return jailspec.JailSpec{
		Name:         "13amd64",
		Version:      "13.2-RELEASE",
		ParallelJobs: 4,
		Packages:     jailspec.PackageSource{Names: []string{"a", "b", "c"}},
		Cron:         jailspec.CronSettings{Enable: true},
	}
}

func opKeys(p *Plan) []string {
	keys := make([]string, 0, len(p.Operations))
	for _, op := range p.Operations {
		keys = append(keys, op.Key)
	}
	return keys
}

func TestPlanJailPresent(t *testing.T) {
	layout := DefaultLayout()
	r := NewReconciler(layout, defaultTrees)

	plan, err := r.PlanJail(presentSpec())
	require.NoError(t, err)
	assert.Empty(t, plan.Warnings)

	assert.Equal(t, []string{
		"jail:13amd64",
		"file:/usr/local/etc/poudriere.d/13amd64-make.conf",
		"file:/usr/local/etc/poudriere.d/13amd64.list",
		"cron:poudriere-bulk-13amd64",
	}, opKeys(plan))

	lifecycle := plan.Operations[0]
	assert.Equal(t, OpExec, lifecycle.Kind)
	assert.Equal(t, "/usr/local/bin/poudriere", lifecycle.Command.Path)
	assert.Equal(t, []string{"jail", "-c", "-j", "13amd64", "-v", "13.2-RELEASE", "-p", "default"}, lifecycle.Command.Args)
	assert.Equal(t, "/usr/local/poudriere/jails/13amd64", lifecycle.Guard.Creates)
	assert.Nil(t, lifecycle.Guard.OnlyIf)
	assert.Equal(t, LifecycleTimeout, lifecycle.Timeout)

	for _, op := range plan.Operations[1:] {
		assert.Equal(t, []string{"jail:13amd64"}, op.Requires, op.Key)
	}

	list, ok := plan.Operation("file:/usr/local/etc/poudriere.d/13amd64.list")
	require.True(t, ok)
	assert.Equal(t, "a\nb\nc\n", string(list.Content))
	assert.Equal(t, jailspec.StateFile, list.Ensure)

	cron, ok := plan.Operation("cron:poudriere-bulk-13amd64")
	require.True(t, ok)
	assert.Equal(t, jailspec.StatePresent, cron.Ensure)
	assert.Equal(t, "/usr/local/etc/cron.d/poudriere-bulk-13amd64", cron.Path)
	assert.Contains(t, string(cron.Content),
		"0 0 * * * root OUTPUT=$(/usr/local/bin/poudriere bulk -f /usr/local/etc/poudriere.d/13amd64.list -j 13amd64 -J 4 -p default) || echo $OUTPUT\n")
}

func TestPlanJailArchAndTree(t *testing.T) {
	r := NewReconciler(DefaultLayout(), []jailspec.PortsTreeSpec{{Name: "default"}, {Name: "quarterly"}})

	spec := presentSpec()
	spec.Arch = "arm64"
	plan, err := r.PlanJail(spec)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(plan.Operations[0].Command.String(), "-v 13.2-RELEASE -a arm64 -p default"))

	spec.PortsTree = "quarterly"
	plan, err = r.PlanJail(spec)
	require.NoError(t, err)
	assert.Equal(t, "quarterly", plan.Operations[0].Command.Args[len(plan.Operations[0].Command.Args)-1])
	assert.Empty(t, plan.Warnings)
}

func TestPlanJailAlwaysMail(t *testing.T) {
	r := NewReconciler(DefaultLayout(), defaultTrees)
	spec := presentSpec()
	spec.Cron.AlwaysMail = true

	plan, err := r.PlanJail(spec)
	require.NoError(t, err)
	cron, _ := plan.Operation("cron:poudriere-bulk-13amd64")
	assert.NotContains(t, string(cron.Content), "OUTPUT=")
	assert.Contains(t, string(cron.Content), "root /usr/local/bin/poudriere bulk -f")
}

func TestPlanJailCronInContainer(t *testing.T) {
	layout := DefaultLayout()
	layout.Container = "builder"
	layout.DockerCLI = "/usr/local/bin/docker"
	r := NewReconciler(layout, defaultTrees)

	plan, err := r.PlanJail(presentSpec())
	require.NoError(t, err)

	cron, ok := plan.Operation("cron:poudriere-bulk-13amd64")
	require.True(t, ok)
	assert.Equal(t, "/usr/local/etc/cron.d/poudriere-bulk-13amd64", cron.Path)
	assert.Contains(t, string(cron.Content),
		"root OUTPUT=$(/usr/local/bin/docker exec -u root builder /usr/local/bin/poudriere bulk -f /usr/local/etc/poudriere.d/13amd64.list")
}

func TestPlanJailCronDisabled(t *testing.T) {
	r := NewReconciler(DefaultLayout(), defaultTrees)
	spec := presentSpec()
	spec.Cron.Enable = false

	plan, err := r.PlanJail(spec)
	require.NoError(t, err)
	cron, ok := plan.Operation("cron:poudriere-bulk-13amd64")
	require.True(t, ok)
	assert.Equal(t, jailspec.StateAbsent, cron.Ensure)
	assert.Empty(t, cron.Content)
}

func TestPlanJailUndeclaredTree(t *testing.T) {
	r := NewReconciler(DefaultLayout(), defaultTrees)

	tests := []struct {
		tree    string
		message string
	}{
		{tree: "unknown", message: `"unknown"`},
		{tree: "defaut", message: "misspelled"},
	}
	for _, tt := range tests {
		t.Run(tt.tree, func(t *testing.T) {
			spec := presentSpec()
			spec.PortsTree = tt.tree
			plan, err := r.PlanJail(spec)
			require.NoError(t, err)
			require.Len(t, plan.Warnings, 1)
			assert.Equal(t, jailspec.WarnPortsTreeUndeclared, plan.Warnings[0].Code)
			assert.Contains(t, plan.Warnings[0].Message, tt.message)
			// planning still proceeds
			assert.Len(t, plan.Operations, 4)
		})
	}
}

func TestPlanJailAbsent(t *testing.T) {
	r := NewReconciler(DefaultLayout(), defaultTrees)
	spec := presentSpec()
	spec.Ensure = jailspec.EnsureAbsent
	spec.OptionsDir = "/srv/options/13amd64"

	plan, err := r.PlanJail(spec)
	require.NoError(t, err)

	lifecycle := plan.Operations[0]
	assert.Equal(t, []string{"jail", "-d", "-j", "13amd64"}, lifecycle.Command.Args)
	assert.Empty(t, lifecycle.Guard.Creates)
	require.NotNil(t, lifecycle.Guard.OnlyIf)
	assert.Equal(t, []string{"jail", "-l"}, lifecycle.Guard.OnlyIf.Command.Args)
	assert.Equal(t, "13amd64", lifecycle.Guard.OnlyIf.Match)

	for _, op := range plan.Operations {
		assert.NotContains(t, op.Command.Args, "-c", op.Key)
		if op.Kind != OpExec {
			assert.Equal(t, jailspec.StateAbsent, op.Ensure, op.Key)
			assert.False(t, op.Recurse, op.Key)
		}
	}
}

func TestPlanJailMakefileRef(t *testing.T) {
	r := NewReconciler(DefaultLayout(), defaultTrees)
	spec := presentSpec()
	spec.BuildOptions = jailspec.MakefileRef{Path: "/srv/make.conf"}
	spec.Packages = jailspec.PackageSource{Names: []string{"ignored"}, File: "/srv/pkglist"}

	plan, err := r.PlanJail(spec)
	require.NoError(t, err)

	makeConf, _ := plan.Operation("file:/usr/local/etc/poudriere.d/13amd64-make.conf")
	assert.Equal(t, "/srv/make.conf", makeConf.Source)
	assert.Empty(t, makeConf.Content)

	list, _ := plan.Operation("file:/usr/local/etc/poudriere.d/13amd64.list")
	assert.Equal(t, "/srv/pkglist", list.Source)
	assert.Empty(t, list.Content)
}

func TestPlanJailOptionsDir(t *testing.T) {
	r := NewReconciler(DefaultLayout(), defaultTrees)
	spec := presentSpec()
	spec.OptionsDir = "/srv/options/13amd64"

	plan, err := r.PlanJail(spec)
	require.NoError(t, err)

	dir, ok := plan.Operation("dir:/usr/local/etc/poudriere.d/13amd64-options")
	require.True(t, ok)
	assert.Equal(t, OpDirectory, dir.Kind)
	assert.Equal(t, jailspec.StateDirectory, dir.Ensure)
	assert.Equal(t, "/srv/options/13amd64", dir.Source)
	assert.True(t, dir.Recurse)
	assert.True(t, dir.Purge)
}

func TestPlanJailNameOverrideAndMarker(t *testing.T) {
	r := NewReconciler(DefaultLayout(), defaultTrees)
	spec := presentSpec()
	spec.JailName = "13:amd64"

	plan, err := r.PlanJail(spec)
	require.NoError(t, err)
	assert.Equal(t, "jail:13:amd64", plan.Operations[0].Key)
	assert.Equal(t, "/usr/local/poudriere/jails/13_amd64", plan.Operations[0].Guard.Creates)
}

func TestPlanJailInvalid(t *testing.T) {
	r := NewReconciler(DefaultLayout(), defaultTrees)

	tests := []struct {
		name   string
		mutate func(*jailspec.JailSpec)
	}{
		{"missing version", func(s *jailspec.JailSpec) { s.Version = "" }},
		{"bad arch", func(s *jailspec.JailSpec) { s.Arch = "sparc64" }},
		{"negative jobs", func(s *jailspec.JailSpec) { s.ParallelJobs = -1 }},
		{"bad cron", func(s *jailspec.JailSpec) { s.Cron.Schedule.Minute = "61" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := presentSpec()
			tt.mutate(&spec)
			_, err := r.PlanJail(spec)
			assert.True(t, errors.Is(err, jailspec.ErrInvalidSpec), "got %v", err)
		})
	}
}

func TestPlanPortsTree(t *testing.T) {
	r := NewReconciler(DefaultLayout(), nil)

	plan, err := r.PlanPortsTree(jailspec.PortsTreeSpec{Name: "quarterly", FetchMethod: "git+https", Branch: "2024Q4"})
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)
	op := plan.Operations[0]
	assert.Equal(t, "portstree:quarterly", op.Key)
	assert.Equal(t, []string{"ports", "-c", "-p", "quarterly", "-m", "git+https", "-B", "2024Q4"}, op.Command.Args)
	assert.Equal(t, "/usr/local/poudriere/ports/quarterly", op.Guard.Creates)

	plan, err = r.PlanPortsTree(jailspec.PortsTreeSpec{Name: "old", Ensure: jailspec.EnsureAbsent})
	require.NoError(t, err)
	op = plan.Operations[0]
	assert.Equal(t, []string{"ports", "-d", "-p", "old"}, op.Command.Args)
	require.NotNil(t, op.Guard.OnlyIf)
	assert.Equal(t, executor.Command{Path: "/usr/local/bin/poudriere", Args: []string{"ports", "-l"}}, op.Guard.OnlyIf.Command)

	_, err = r.PlanPortsTree(jailspec.PortsTreeSpec{})
	assert.ErrorIs(t, err, jailspec.ErrInvalidSpec)
}

func TestPlanGlobal(t *testing.T) {
	r := NewReconciler(DefaultLayout(), nil)

	plan, err := r.PlanGlobal(nil)
	require.NoError(t, err)
	assert.Empty(t, plan.Operations)

	plan, err = r.PlanGlobal(map[string]string{"ZPOOL": "zroot", "BASEFS": "/usr/local/poudriere"})
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)
	assert.Equal(t, "file:/usr/local/etc/poudriere.conf", plan.Operations[0].Key)
	assert.Equal(t, "BASEFS=/usr/local/poudriere\nZPOOL=zroot\n", string(plan.Operations[0].Content))
}
