package workspace

import (
	"github.com/kballard/go-shellquote"
)

// DefaultCronSpec drives queue processing every five minutes when
// workspace.cron_spec is unset.
const DefaultCronSpec = "*/5 * * * *"

// CronLine builds a crontab entry for the given schedule and command.
// Arguments are shell-quoted so paths with spaces survive crontab's sh -c.
func CronLine(spec string, args ...string) string {
	if spec == "" {
		spec = DefaultCronSpec
	}
	return spec + " " + shellquote.Join(args...)
}
