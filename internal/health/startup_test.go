package health

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/c12i/bunge-bits-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validStartupConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		ScratchRoot:  filepath.Join(t.TempDir(), "scratch"),
		ListenAddr:   ":8080",
		CronSchedule: "0 0 */4 * * *",
	}
}

func TestPerformStartupChecks_Valid(t *testing.T) {
	cfg := validStartupConfig(t)
	require.NoError(t, PerformStartupChecks(context.Background(), cfg))
}

func TestPerformStartupChecks_EmptyScratchRoot(t *testing.T) {
	cfg := validStartupConfig(t)
	cfg.ScratchRoot = ""
	assert.Error(t, PerformStartupChecks(context.Background(), cfg))
}

func TestPerformStartupChecks_InvalidListenAddr(t *testing.T) {
	cfg := validStartupConfig(t)
	cfg.ListenAddr = "not-an-address"
	assert.Error(t, PerformStartupChecks(context.Background(), cfg))
}

func TestPerformStartupChecks_InvalidCronSchedule(t *testing.T) {
	cfg := validStartupConfig(t)
	cfg.CronSchedule = "not a cron expression"
	assert.Error(t, PerformStartupChecks(context.Background(), cfg))
}
