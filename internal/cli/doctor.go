package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/audit"
	"github.com/ppiankov/actiongate/internal/config"
	"github.com/ppiankov/actiongate/internal/lock"
	"github.com/ppiankov/actiongate/internal/policy"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check system readiness and diagnose configuration issues",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	checks := doctorChecks(cmd.Context(), appConfig, v.ConfigFileUsed())

	// Print results.
	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Println(line)
	}

	if hasFailures {
		fmt.Println()
		fmt.Println("Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Println()
	fmt.Println("All checks passed.")
	return nil
}

func doctorChecks(ctx context.Context, cfg *config.Config, configUsed string) []checkResult {
	if ctx == nil {
		ctx = context.Background()
	}
	var checks []checkResult

	// 1. Binary location and version.
	if execPath, _ := os.Executable(); execPath != "" {
		checks = append(checks, checkResult{
			label:  "actiongate binary",
			ok:     true,
			detail: fmt.Sprintf("%s (v%s)", execPath, version),
		})
	} else {
		checks = append(checks, checkResult{
			label:  "actiongate binary",
			ok:     false,
			detail: "cannot determine executable path",
		})
	}

	// 2. Config file.
	if configUsed != "" {
		checks = append(checks, checkResult{label: "config file", ok: true, detail: configUsed})
	} else {
		checks = append(checks, checkResult{
			label:  "config file",
			ok:     false,
			detail: "not found, using defaults",
			fix:    "actiongate init",
		})
	}

	checks = append(checks, checkPolicies(ctx, cfg))
	checks = append(checks, checkProposals(cfg))
	checks = append(checks, checkAudit(cfg.AuditLog))
	checks = append(checks, checkRedis(ctx, cfg.RedisURL))
	return checks
}

// checkPolicies validates whichever policy source the config selects.
func checkPolicies(ctx context.Context, cfg *config.Config) checkResult {
	res := checkResult{label: "policies", fix: "actiongate init-policy <tenant>"}

	switch {
	case cfg.PolicyDB != "":
		store, err := policy.OpenSQLite(cfg.PolicyDB)
		if err != nil {
			res.detail = err.Error()
			return res
		}
		defer store.Close()
		tenants, err := store.Tenants(ctx)
		if err != nil {
			res.detail = err.Error()
			return res
		}
		res.ok = len(tenants) > 0
		res.detail = fmt.Sprintf("%s (%d tenants)", cfg.PolicyDB, len(tenants))
		return res

	case cfg.PolicyFile != "":
		if _, err := os.Stat(cfg.PolicyFile); err != nil {
			res.detail = cfg.PolicyFile + " missing (every tenant is read_only)"
			return res
		}
		return validatePolicyFiles(res, cfg.PolicyFile, []string{cfg.PolicyFile})

	default:
		files, _ := filepath.Glob(filepath.Join(cfg.PolicyDir, "*.yaml"))
		if len(files) == 0 {
			res.detail = "no tenant policies in " + cfg.PolicyDir
			return res
		}
		return validatePolicyFiles(res, cfg.PolicyDir, files)
	}
}

func validatePolicyFiles(res checkResult, source string, files []string) checkResult {
	var bad []string
	for _, f := range files {
		pc, err := policy.LoadConfig(f)
		if err != nil {
			bad = append(bad, filepath.Base(f)+": "+err.Error())
			continue
		}
		for _, p := range policy.Validate(pc) {
			bad = append(bad, filepath.Base(f)+": "+p)
		}
	}
	if len(bad) > 0 {
		res.detail = strings.Join(bad, "; ")
		res.fix = "edit the listed policy files"
		return res
	}
	res.ok = true
	res.detail = fmt.Sprintf("%s (%d valid)", source, len(files))
	return res
}

// checkProposals confirms the proposal store location is writable.
func checkProposals(cfg *config.Config) checkResult {
	res := checkResult{label: "proposal store"}
	dir := cfg.Proposals.Path
	if cfg.Proposals.Store == config.StoreSQLite {
		dir = filepath.Dir(cfg.Proposals.Path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		res.detail = err.Error()
		return res
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		res.detail = "not writable: " + err.Error()
		return res
	}
	f.Close()
	os.Remove(f.Name())
	res.ok = true
	res.detail = fmt.Sprintf("%s (%s)", cfg.Proposals.Path, cfg.Proposals.Store)
	return res
}

func checkAudit(path string) checkResult {
	res := checkResult{label: "audit log"}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		res.ok = true
		res.detail = path + " (not yet created)"
		return res
	}
	vr := audit.Verify(path)
	if !vr.Valid {
		res.detail = fmt.Sprintf("chain broken at line %d: %s", vr.ErrorLine, vr.Error)
		res.fix = "actiongate audit verify " + path
		return res
	}
	res.ok = true
	res.detail = fmt.Sprintf("%s (%d records, chain intact)", path, vr.Lines)
	return res
}

func checkRedis(ctx context.Context, url string) checkResult {
	res := checkResult{label: "approval locks"}
	if url == "" {
		res.ok = true
		res.detail = "in-process (redis_url not set)"
		return res
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	locker, err := lock.DialRedis(ctx, url, logger)
	if err != nil {
		res.detail = err.Error()
		res.fix = "check redis_url"
		return res
	}
	locker.Close()
	res.ok = true
	res.detail = "redis reachable"
	return res
}
