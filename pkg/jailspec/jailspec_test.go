package jailspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildOptions(t *testing.T) {
	tests := []struct {
		name        string
		makeopts    []string
		pkgMakeopts map[string][]string
		makefile    string
		want        BuildOptions
		wantErr     error
	}{
		{
			name: "empty is inline",
			want: InlineOptions{PkgMakeOpts: []PackageOptions{}},
		},
		{
			name:     "makefile only",
			makefile: "/root/make.conf",
			want:     MakefileRef{Path: "/root/make.conf"},
		},
		{
			name:     "makefile with makeopts conflicts",
			makeopts: []string{"WITH_DEBUG=yes"},
			makefile: "/root/make.conf",
			wantErr:  ErrConflictingBuildOptions,
		},
		{
			name:        "makefile with pkg makeopts conflicts",
			pkgMakeopts: map[string][]string{"www/nginx": {"WITH_HTTP2=yes"}},
			makefile:    "/root/make.conf",
			wantErr:     ErrConflictingBuildOptions,
		},
		{
			name:     "inline options sort origins",
			makeopts: []string{"DEFAULT_VERSIONS+=ssl=openssl"},
			pkgMakeopts: map[string][]string{
				"www/nginx":      {"OPTIONS_SET+=HTTP2"},
				"databases/pg16": {"OPTIONS_UNSET+=DOCS"},
			},
			want: InlineOptions{
				MakeOpts: []string{"DEFAULT_VERSIONS+=ssl=openssl"},
				PkgMakeOpts: []PackageOptions{
					{Origin: "databases/pg16", Options: []string{"OPTIONS_UNSET+=DOCS"}},
					{Origin: "www/nginx", Options: []string{"OPTIONS_SET+=HTTP2"}},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewBuildOptions(tt.makeopts, tt.pkgMakeopts, tt.makefile)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEnsure(t *testing.T) {
	for in, want := range map[string]Ensure{"": EnsurePresent, "present": EnsurePresent, " Absent ": EnsureAbsent} {
		got, err := ParseEnsure(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEnsure("running")
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestDesiredStateFor(t *testing.T) {
	tests := []struct {
		ensure Ensure
		cron   bool
		want   StateSet
	}{
		{EnsurePresent, true, StateSet{File: StateFile, Dir: StateDirectory, Cron: StatePresent, Recurse: true}},
		{EnsurePresent, false, StateSet{File: StateFile, Dir: StateDirectory, Cron: StateAbsent, Recurse: true}},
		{EnsureAbsent, true, StateSet{File: StateAbsent, Dir: StateAbsent, Cron: StateAbsent, Recurse: false}},
		{EnsureAbsent, false, StateSet{File: StateAbsent, Dir: StateAbsent, Cron: StateAbsent, Recurse: false}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DesiredStateFor(tt.ensure, tt.cron), "ensure=%s cron=%v", tt.ensure, tt.cron)
	}
}

func TestWithDefaults(t *testing.T) {
	spec := JailSpec{Name: "132amd64", Version: "13.2-RELEASE"}.WithDefaults()

	assert.Equal(t, EnsurePresent, spec.Ensure)
	assert.Equal(t, DefaultPortsTree, spec.PortsTree)
	assert.Equal(t, runtime.NumCPU(), spec.ParallelJobs)
	assert.Equal(t, DefaultSchedule(), spec.Cron.Schedule)
	assert.Equal(t, InlineOptions{}, spec.BuildOptions)
	assert.Equal(t, "132amd64", spec.EffectiveJailName())
	require.NoError(t, spec.Validate())
}

func TestWithDefaults_PartialSchedule(t *testing.T) {
	spec := JailSpec{
		Name:    "j",
		Version: "14.0-RELEASE",
		Cron:    CronSettings{Schedule: CronSchedule{Hour: "3", WeekDay: "0"}},
	}.WithDefaults()

	assert.Equal(t, "0 3 * * 0", spec.Cron.Schedule.String())
}

func TestValidate(t *testing.T) {
	base := JailSpec{Name: "j", Version: "14.0-RELEASE"}.WithDefaults()

	tests := []struct {
		name   string
		mutate func(*JailSpec)
	}{
		{"missing version", func(s *JailSpec) { s.Version = " " }},
		{"missing name", func(s *JailSpec) { s.Name = "" }},
		{"slash in jail name", func(s *JailSpec) { s.JailName = "a/b" }},
		{"unknown arch", func(s *JailSpec) { s.Arch = "sparc64" }},
		{"zero jobs", func(s *JailSpec) { s.ParallelJobs = 0 }},
		{"bad ensure", func(s *JailSpec) { s.Ensure = "running" }},
		{"bad minute", func(s *JailSpec) { s.Cron.Schedule.Minute = "61" }},
		{"split field", func(s *JailSpec) { s.Cron.Schedule.Hour = "1 2" }},
		{"empty makefile ref", func(s *JailSpec) { s.BuildOptions = MakefileRef{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := base
			tt.mutate(&spec)
			assert.ErrorIs(t, spec.Validate(), ErrInvalidSpec)
		})
	}
}

func TestValidArch(t *testing.T) {
	assert.True(t, ValidArch(""))
	assert.True(t, ValidArch("arm64"))
	assert.True(t, ValidArch("arm64.aarch64"))
	assert.False(t, ValidArch("m68k"))
}

func TestCronScheduleValidate(t *testing.T) {
	valid := []CronSchedule{
		DefaultSchedule(),
		{Minute: "*/15", Hour: "1-5", MonthDay: "1,15", Month: "*", WeekDay: "MON-FRI"},
	}
	for _, s := range valid {
		assert.NoError(t, s.Validate(), s.String())
	}

	invalid := []CronSchedule{
		{},
		{Minute: "0", Hour: "25", MonthDay: "*", Month: "*", WeekDay: "*"},
		{Minute: "0", Hour: "0", MonthDay: "*", Month: "13", WeekDay: "*"},
	}
	for _, s := range invalid {
		assert.ErrorIs(t, s.Validate(), ErrInvalidSpec, s.String())
	}
}

func TestPortsTreeUndeclared(t *testing.T) {
	w := PortsTreeUndeclared("j", "unknown")
	assert.Equal(t, WarnPortsTreeUndeclared, w.Code)
	assert.Equal(t, "unknown", w.Subject)
	assert.Contains(t, w.Message, `"unknown"`)

	legacy := PortsTreeUndeclared("j", LegacyPortsTreeAlias)
	assert.Equal(t, LegacyPortsTreeAlias, legacy.Subject)
	assert.Contains(t, legacy.Message, "misspelled")
	assert.NotEqual(t, w.Message, legacy.Message)
}

func TestPortsTreeSpecValidate(t *testing.T) {
	assert.NoError(t, PortsTreeSpec{Name: "default"}.Validate())
	assert.ErrorIs(t, PortsTreeSpec{}.Validate(), ErrInvalidSpec)
	assert.ErrorIs(t, PortsTreeSpec{Name: "a b"}.Validate(), ErrInvalidSpec)
	assert.ErrorIs(t, PortsTreeSpec{Name: "a", Ensure: "gone"}.Validate(), ErrInvalidSpec)
}
