package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestRunRejectsUnknownCommands(t *testing.T) {
	cli := NewJobsCLI(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, time.Hour)
	t.Cleanup(func() { _ = cli.Close() })

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	require.Equal(t, 2, cli.Run(context.Background(), nil, stdout, stderr))
	require.Contains(t, stderr.String(), "usage")

	stderr.Reset()
	require.Equal(t, 2, cli.Run(context.Background(), []string{"purge"}, stdout, stderr))
	require.Contains(t, stderr.String(), `unknown command "purge"`)

	stderr.Reset()
	require.Equal(t, 2, cli.Run(context.Background(), []string{"trigger"}, stdout, stderr))
	require.Empty(t, stdout.String())
}

func TestTriggerUnsupportedJob(t *testing.T) {
	cli := NewJobsCLI(asynq.RedisClientOpt{Addr: "127.0.0.1:0"}, time.Hour)
	t.Cleanup(func() { _ = cli.Close() })

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := cli.Run(context.Background(), []string{"trigger", "ledger:rebuild"}, stdout, stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "unsupported job ledger:rebuild")
}

func TestNilCLIReportsMissingClient(t *testing.T) {
	var cli *JobsCLI
	_, err := cli.Trigger(context.Background(), "credit:overdue_sweep")
	require.EqualError(t, err, "jobs cli: client not configured")
	_, err = cli.InspectQueue(context.Background())
	require.EqualError(t, err, "jobs cli: inspector not configured")
}
