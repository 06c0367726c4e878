package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/agent"
	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/db"
	"github.com/roostlabs/roost/display"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/logger"
	"github.com/roostlabs/roost/queue"
	"github.com/roostlabs/roost/sym"
	"github.com/roostlabs/roost/workspace"
)

// DoctorCmd audits workspace health
var DoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: sym.Watch + " Audit workspace health",
	Long: sym.Watch + ` doctor — Check that the nest is in working order.

Audits configuration, the workspace tree, the SSH key and identity, the
database, the daemon lock, disk and memory headroom, and agent gateway
reachability. Exits non-zero when any check fails.

Example:
  roost doctor`,
	RunE: runDoctor,
}

// checkResult is one doctor finding. Status is ok, warn, or fail.
type checkResult struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Detail    string `json:"detail"`
}

const (
	checkOK   = "ok"
	checkWarn = "warn"
	checkFail = "fail"
)

// minFreeDiskGB is the disk headroom below which repo saves start to hurt:
// clones and packfiles both land on the workspace volume.
const minFreeDiskGB = 1.0

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult
	add := func(component, status, detail string) {
		checks = append(checks, checkResult{Component: component, Status: status, Detail: detail})
	}

	cfg, err := am.Load()
	if err != nil {
		add("config", checkFail, err.Error())
		return reportChecks(cmd, checks)
	}
	if err := cfg.Validate(); err != nil {
		add("config", checkFail, err.Error())
	} else {
		add("config", checkOK, fmt.Sprintf("workspace.root %s", cfg.GetWorkspaceRoot()))
	}

	ws := workspace.New(cfg)
	checkWorkspace(ws, add)
	checkKey(ws, add)
	checkDatabase(add)
	checkDaemonLock(ws, add)
	checkDisk(ws, add)
	checkMemory(add)
	checkGateway(cmd.Context(), cfg, add)

	if cfg.OpenRouter.APIKey != "" {
		add("openrouter", checkOK, fmt.Sprintf("delegation key configured (model %s)", cfg.OpenRouter.Model))
	} else {
		add("openrouter", checkWarn, "no API key; delegation to cheaper models is off")
	}

	return reportChecks(cmd, checks)
}

func checkWorkspace(ws *workspace.Workspace, add func(string, string, string)) {
	missing := []string{}
	for _, dir := range []string{ws.Root, ws.ReposDir, ws.PromptsDir, ws.KeysDir, ws.StateDir} {
		if _, err := os.Stat(dir); err != nil {
			missing = append(missing, dir)
		}
	}
	if len(missing) > 0 {
		add("workspace", checkFail, fmt.Sprintf("missing %s (run 'roost init')", strings.Join(missing, ", ")))
		return
	}
	add("workspace", checkOK, ws.Root)
}

func checkKey(ws *workspace.Workspace, add func(string, string, string)) {
	if _, err := os.Stat(ws.PrivateKeyPath()); err != nil {
		add("ssh key", checkFail, "missing (run 'roost init' or 'roost keygen')")
		return
	}
	kp, err := ws.Keypair()
	if err != nil {
		add("ssh key", checkFail, err.Error())
		return
	}
	add("ssh key", checkOK, kp.Fingerprint)

	// The identity derives from the existing key, so this never generates.
	identity, err := ws.LoadOrCreateIdentity()
	if err != nil {
		add("identity", checkFail, err.Error())
		return
	}
	add("identity", checkOK, identity.DID)
}

func checkDatabase(add func(string, string, string)) {
	dbPath := resolvedDatabasePath()
	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		add("database", checkFail, err.Error())
		return
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		add("database", checkFail, err.Error())
		return
	}

	stats, err := queue.NewQueue(database).GetStats()
	if err != nil {
		// Opens but has no schema yet; init/migrate fixes it.
		add("database", checkWarn, fmt.Sprintf("%s not migrated (run 'roost init')", dbPath))
		return
	}
	add("database", checkOK, fmt.Sprintf("%s (%d jobs, %d queued)", dbPath, stats.Total, stats.Queued))
}

func checkDaemonLock(ws *workspace.Workspace, add func(string, string, string)) {
	data, err := os.ReadFile(ws.LockPath())
	if os.IsNotExist(err) {
		add("daemon", checkOK, "not running (no lock)")
		return
	}
	if err != nil {
		add("daemon", checkWarn, fmt.Sprintf("lock unreadable: %v", err))
		return
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		add("daemon", checkWarn, "stale lock with no valid pid (safe to delete)")
		return
	}
	alive, err := process.PidExists(int32(pid))
	if err == nil && !alive {
		add("daemon", checkWarn, fmt.Sprintf("stale lock from dead pid %d (next run takes over)", pid))
		return
	}
	add("daemon", checkOK, fmt.Sprintf("running (pid %d)", pid))
}

func checkDisk(ws *workspace.Workspace, add func(string, string, string)) {
	usage, err := disk.Usage(ws.Root)
	if err != nil {
		// Workspace may not exist yet; the workspace check reports that.
		usage, err = disk.Usage(".")
	}
	if err != nil {
		add("disk", checkWarn, err.Error())
		return
	}
	freeGB := float64(usage.Free) / 1024 / 1024 / 1024
	detail := fmt.Sprintf("%.1fGB free (%.0f%% used)", freeGB, usage.UsedPercent)
	if freeGB < minFreeDiskGB {
		add("disk", checkWarn, detail+", saves may fail")
		return
	}
	add("disk", checkOK, detail)
}

func checkMemory(add func(string, string, string)) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		add("memory", checkWarn, err.Error())
		return
	}
	availGB := float64(vm.Available) / 1024 / 1024 / 1024
	detail := fmt.Sprintf("%.1fGB available (%.0f%% used)", availGB, vm.UsedPercent)
	if vm.UsedPercent > 90 {
		add("memory", checkWarn, detail)
		return
	}
	add("memory", checkOK, detail)
}

func checkGateway(ctx context.Context, cfg *am.Config, add func(string, string, string)) {
	if !cfg.Agent.Enabled {
		add("agent gateway", checkWarn, "disabled; prompt jobs will fail until agent.enabled is set")
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := agent.NewClient(&cfg.Agent, logger.Logger)
	health, err := client.Ping(pingCtx)
	if err != nil {
		add("agent gateway", checkFail, fmt.Sprintf("%s unreachable: %v", cfg.Agent.BaseURL, err))
		return
	}
	if !health.Compatible {
		add("agent gateway", checkFail, fmt.Sprintf("version %s below agent.min_gateway_version %s",
			health.Version, cfg.Agent.MinGatewayVersion))
		return
	}
	add("agent gateway", checkOK, fmt.Sprintf("%s (version %s)", health.Status, health.Version))
}

// reportChecks renders the findings and returns an error when any failed.
func reportChecks(cmd *cobra.Command, checks []checkResult) error {
	failures, warnings := 0, 0
	for _, c := range checks {
		switch c.Status {
		case checkFail:
			failures++
		case checkWarn:
			warnings++
		}
	}

	if display.ShouldOutputJSON(cmd) {
		if err := display.OutputJSON(checks); err != nil {
			return err
		}
		if failures > 0 {
			return errors.Newf("%d check(s) failed", failures)
		}
		return nil
	}

	rows := make([][]string, 0, len(checks))
	for _, c := range checks {
		rows = append(rows, []string{c.Component, c.Status, c.Detail})
	}
	fmt.Printf("%s Workspace health\n\n", sym.Watch)
	display.Table(os.Stdout, []string{"COMPONENT", "STATUS", "DETAIL"}, rows)
	fmt.Println()

	switch {
	case failures > 0:
		pterm.Error.Printf("%d check(s) failed, %d warning(s)\n", failures, warnings)
		return errors.Newf("%d check(s) failed", failures)
	case warnings > 0:
		pterm.Warning.Printf("Healthy with %d warning(s)\n", warnings)
	default:
		pterm.Success.Println("All checks passed")
	}
	return nil
}
