package jailspec

// ResourceState is the desired presence of a managed artifact.
type ResourceState string

const (
	StateAbsent    ResourceState = "absent"
	StatePresent   ResourceState = "present"
	StateFile      ResourceState = "file"
	StateDirectory ResourceState = "directory"
)

// StateSet is the desired state of every artifact a jail manages.
type StateSet struct {
	File    ResourceState
	Dir     ResourceState
	Cron    ResourceState
	Recurse bool
}

// DesiredStateFor maps (ensure, cronEnable) onto the four total
// configurations. Recursion is always off for absent directories:
// removing a tree is a single recursive delete, not a per-file sync.
func DesiredStateFor(ensure Ensure, cronEnable bool) StateSet {
	if ensure == EnsureAbsent {
		return StateSet{
			File:    StateAbsent,
			Dir:     StateAbsent,
			Cron:    StateAbsent,
			Recurse: false,
		}
	}

	cron := StateAbsent
	if cronEnable {
		cron = StatePresent
	}
	return StateSet{
		File:    StateFile,
		Dir:     StateDirectory,
		Cron:    cron,
		Recurse: true,
	}
}
