package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hirebirhan/amtradingplc/internal/app"
	_ "github.com/hirebirhan/amtradingplc/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}

func TestLockOptionsFromConfig(t *testing.T) {
	cfg := &app.Config{LockTTL: 0, LockRetryLimit: 7}
	opts := lockOptions(cfg)
	require.Equal(t, 7, opts.RetryLimit)
	require.Zero(t, opts.TTL)
}
