package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/c12i/bunge-bits-go/internal/config"
	"github.com/c12i/bunge-bits-go/internal/log"
	"github.com/robfig/cron/v3"
)

// PerformStartupChecks validates the environment and dependencies before the
// scheduler starts accepting ticks.
func PerformStartupChecks(_ context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkScratchRoot(cfg.ScratchRoot); err != nil {
		return fmt.Errorf("scratch root check failed: %w", err)
	}
	if err := checkListenAddr(cfg.ListenAddr); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if err := checkCronSchedule(cfg.CronSchedule); err != nil {
		return fmt.Errorf("cron schedule check failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkScratchRoot(path string) error {
	if path == "" {
		return fmt.Errorf("scratch root must not be empty")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("cannot create scratch root %s: %w", path, err)
	}

	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("scratch root %s is not writable: %w", path, err)
	}
	_ = os.Remove(probe)
	return nil
}

func checkListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	return nil
}

func checkCronSchedule(expr string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}
