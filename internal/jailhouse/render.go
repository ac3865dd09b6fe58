package jailhouse

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"poudctl/pkg/jailspec"
)

var makeConfTemplate = template.Must(template.New("make.conf").Funcs(sprig.TxtFuncMap()).Parse(
	`{{ range .MakeOpts -}}
{{ . }}
{{ end -}}
{{ range .PkgMakeOpts -}}
.if ${.CURDIR:M*/{{ .Origin }}}
{{ range .Options -}}
{{ . }}
{{ end -}}
.endif
{{ end -}}
`))

var cronEntryTemplate = template.Must(template.New("cron").Funcs(sprig.TxtFuncMap()).Parse(
	`# {{ .Name }}: managed by poudctl, local changes are overwritten
{{ .Schedule }} {{ .User }} {{ .Command | trim }}
`))

var poudriereConfTemplate = template.Must(template.New("poudriere.conf").Funcs(sprig.TxtFuncMap()).Parse(
	`{{ range $key := keys .Settings | sortAlpha -}}
{{ $key }}={{ index $.Settings $key }}
{{ end -}}
`))

// RenderMakeConf renders global options one per line, then one
// conditional block per port origin.
func RenderMakeConf(opts jailspec.InlineOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := makeConfTemplate.Execute(&buf, opts); err != nil {
		return nil, fmt.Errorf("render make.conf: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPackageList renders one package origin per line. Every line,
// including the last, ends in a newline.
func RenderPackageList(names []string) []byte {
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// BulkCommand is the scheduled poudriere bulk build for a jail. With a
// builder container it runs through docker exec, since cron fires on
// this host.
func BulkCommand(l Layout, jail string, jobs int, portsTree string) string {
	bulk := fmt.Sprintf("%s bulk -f %s -j %s -J %d -p %s",
		l.Tool, l.PackageListPath(jail), jail, jobs, portsTree)
	if l.Container == "" {
		return bulk
	}
	cli := l.DockerCLI
	if cli == "" {
		cli = "docker"
	}
	user := l.ContainerUser
	if user == "" {
		user = "root"
	}
	return fmt.Sprintf("%s exec -u %s %s %s", cli, user, l.Container, bulk)
}

// CronCommand wraps the bulk command for cron. Unless alwaysMail is set
// output is only echoed, and so mailed, when the build fails.
func CronCommand(bulk string, alwaysMail bool) string {
	if alwaysMail {
		return bulk
	}
	return fmt.Sprintf("OUTPUT=$(%s) || echo $OUTPUT", bulk)
}

// RenderCronEntry renders a system crontab file with a single entry.
func RenderCronEntry(name string, schedule jailspec.CronSchedule, user, command string) ([]byte, error) {
	var buf bytes.Buffer
	err := cronEntryTemplate.Execute(&buf, map[string]string{
		"Name":     name,
		"Schedule": schedule.String(),
		"User":     user,
		"Command":  command,
	})
	if err != nil {
		return nil, fmt.Errorf("render cron entry: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPoudriereConf renders KEY=value lines sorted by key.
func RenderPoudriereConf(settings map[string]string) ([]byte, error) {
	// sprig's keys only accepts map[string]interface{}
	values := make(map[string]any, len(settings))
	for k, v := range settings {
		values[k] = v
	}
	var buf bytes.Buffer
	if err := poudriereConfTemplate.Execute(&buf, map[string]any{"Settings": values}); err != nil {
		return nil, fmt.Errorf("render poudriere.conf: %w", err)
	}
	return buf.Bytes(), nil
}
