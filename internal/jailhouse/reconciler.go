package jailhouse

import (
	"fmt"

	"github.com/samber/lo"

	"poudctl/internal/executor"
	"poudctl/pkg/jailspec"
)

// Reconciler computes plans. It never touches the host.
type Reconciler struct {
	layout   Layout
	declared map[string]bool
}

// NewReconciler creates a reconciler that knows which ports trees the
// manifest declared.
func NewReconciler(layout Layout, trees []jailspec.PortsTreeSpec) *Reconciler {
	return &Reconciler{
		layout: layout,
		declared: lo.SliceToMap(trees, func(t jailspec.PortsTreeSpec) (string, bool) {
			return t.Name, true
		}),
	}
}

// PlanJail validates spec and emits its operations: the jail lifecycle
// first, then make.conf, the package list, the optional options
// directory and the cron entry, each requiring the lifecycle operation.
func (r *Reconciler) PlanJail(spec jailspec.JailSpec) (*Plan, error) {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	jail := spec.EffectiveJailName()
	states := jailspec.DesiredStateFor(spec.Ensure, spec.Cron.Enable)
	plan := &Plan{Subject: "jail:" + spec.Name}

	if !r.declared[spec.PortsTree] {
		plan.Warnings = append(plan.Warnings, jailspec.PortsTreeUndeclared(spec.Name, spec.PortsTree))
	}

	lifecycle := r.jailLifecycleOp(spec, jail)
	requires := []string{lifecycle.Key}
	plan.Operations = append(plan.Operations, lifecycle)

	makeConf, err := r.makeConfOp(spec, jail, states.File, requires)
	if err != nil {
		return nil, fmt.Errorf("jail %s: %w", spec.Name, err)
	}
	plan.Operations = append(plan.Operations, makeConf, r.packageListOp(spec, jail, states.File, requires))

	if spec.OptionsDir != "" {
		plan.Operations = append(plan.Operations, Operation{
			Key:      "dir:" + r.layout.OptionsDirPath(jail),
			Kind:     OpDirectory,
			Requires: requires,
			Ensure:   states.Dir,
			Path:     r.layout.OptionsDirPath(jail),
			Source:   spec.OptionsDir,
			Mode:     0o755,
			Recurse:  states.Recurse,
			Purge:    states.Recurse,
		})
	}

	cron, err := r.cronOp(spec, jail, states.Cron, requires)
	if err != nil {
		return nil, fmt.Errorf("jail %s: %w", spec.Name, err)
	}
	plan.Operations = append(plan.Operations, cron)

	return plan, nil
}

func (r *Reconciler) jailLifecycleOp(spec jailspec.JailSpec, jail string) Operation {
	op := Operation{
		Key:     "jail:" + jail,
		Kind:    OpExec,
		Timeout: LifecycleTimeout,
	}

	if spec.Ensure == jailspec.EnsureAbsent {
		op.Command = executor.Command{Path: r.layout.Tool, Args: []string{"jail", "-d", "-j", jail}}
		op.Guard.OnlyIf = &Query{
			Command: executor.Command{Path: r.layout.Tool, Args: []string{"jail", "-l"}},
			Match:   jail,
		}
		return op
	}

	args := []string{"jail", "-c", "-j", jail, "-v", spec.Version}
	if spec.Arch != "" {
		args = append(args, "-a", spec.Arch)
	}
	args = append(args, "-p", spec.PortsTree)
	op.Command = executor.Command{Path: r.layout.Tool, Args: args}
	op.Guard.Creates = r.layout.JailMarkerPath(jail)
	return op
}

func (r *Reconciler) makeConfOp(spec jailspec.JailSpec, jail string, state jailspec.ResourceState, requires []string) (Operation, error) {
	path := r.layout.MakeConfPath(jail)
	op := Operation{
		Key:      "file:" + path,
		Kind:     OpFile,
		Requires: requires,
		Ensure:   state,
		Path:     path,
		Mode:     0o644,
	}
	if state == jailspec.StateAbsent {
		return op, nil
	}

	switch opts := spec.BuildOptions.(type) {
	case jailspec.MakefileRef:
		op.Source = opts.Path
	case jailspec.InlineOptions:
		content, err := RenderMakeConf(opts)
		if err != nil {
			return Operation{}, err
		}
		op.Content = content
	default:
		return Operation{}, fmt.Errorf("%w: unknown build options %T", jailspec.ErrInvalidSpec, opts)
	}
	return op, nil
}

func (r *Reconciler) packageListOp(spec jailspec.JailSpec, jail string, state jailspec.ResourceState, requires []string) Operation {
	path := r.layout.PackageListPath(jail)
	op := Operation{
		Key:      "file:" + path,
		Kind:     OpFile,
		Requires: requires,
		Ensure:   state,
		Path:     path,
		Mode:     0o644,
	}
	if state == jailspec.StateAbsent {
		return op
	}
	if spec.Packages.FromFile() {
		op.Source = spec.Packages.File
	} else {
		op.Content = RenderPackageList(spec.Packages.Names)
	}
	return op
}

func (r *Reconciler) cronOp(spec jailspec.JailSpec, jail string, state jailspec.ResourceState, requires []string) (Operation, error) {
	op := Operation{
		Key:      "cron:" + r.layout.CronEntryName(jail),
		Kind:     OpCron,
		Requires: requires,
		Ensure:   state,
		Path:     r.layout.CronPath(jail),
		Mode:     0o644,
	}
	if state == jailspec.StateAbsent {
		return op, nil
	}

	command := CronCommand(BulkCommand(r.layout, jail, spec.ParallelJobs, spec.PortsTree), spec.Cron.AlwaysMail)
	content, err := RenderCronEntry(r.layout.CronEntryName(jail), spec.Cron.Schedule, r.layout.CronUser, command)
	if err != nil {
		return Operation{}, err
	}
	op.Content = content
	return op, nil
}

// PlanPortsTree emits create or destroy of one ports tree.
func (r *Reconciler) PlanPortsTree(spec jailspec.PortsTreeSpec) (*Plan, error) {
	if spec.Ensure == "" {
		spec.Ensure = jailspec.EnsurePresent
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	op := Operation{
		Key:     "portstree:" + spec.Name,
		Kind:    OpExec,
		Timeout: LifecycleTimeout,
	}

	if spec.Ensure == jailspec.EnsureAbsent {
		op.Command = executor.Command{Path: r.layout.Tool, Args: []string{"ports", "-d", "-p", spec.Name}}
		op.Guard.OnlyIf = &Query{
			Command: executor.Command{Path: r.layout.Tool, Args: []string{"ports", "-l"}},
			Match:   spec.Name,
		}
	} else {
		args := []string{"ports", "-c", "-p", spec.Name}
		if spec.FetchMethod != "" {
			args = append(args, "-m", spec.FetchMethod)
		}
		if spec.Branch != "" {
			args = append(args, "-B", spec.Branch)
		}
		op.Command = executor.Command{Path: r.layout.Tool, Args: args}
		op.Guard.Creates = r.layout.PortsMarkerPath(spec.Name)
	}

	return &Plan{Subject: "portstree:" + spec.Name, Operations: []Operation{op}}, nil
}

// PlanGlobal emits poudriere.conf. An empty settings map yields an empty
// plan and leaves any existing file alone.
func (r *Reconciler) PlanGlobal(settings map[string]string) (*Plan, error) {
	plan := &Plan{Subject: "global"}
	if len(settings) == 0 {
		return plan, nil
	}

	content, err := RenderPoudriereConf(settings)
	if err != nil {
		return nil, err
	}
	path := r.layout.PoudriereConfPath()
	plan.Operations = append(plan.Operations, Operation{
		Key:     "file:" + path,
		Kind:    OpFile,
		Ensure:  jailspec.StateFile,
		Path:    path,
		Content: content,
		Mode:    0o644,
	})
	return plan, nil
}
