package execx

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandRunner_Run(t *testing.T) {
	requireShell(t)
	out, err := CommandRunner{Env: []string{"DEPMGR_TEST=hello"}}.Run(context.Background(), time.Second, "sh", "-c", "echo $DEPMGR_TEST")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestCommandRunner_Failure(t *testing.T) {
	requireShell(t)
	_, err := CommandRunner{}.Run(context.Background(), time.Second, "sh", "-c", "echo bad credentials >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestCommandRunner_Timeout(t *testing.T) {
	requireShell(t)
	_, err := CommandRunner{}.Run(context.Background(), 50*time.Millisecond, "sh", "-c", "sleep 5")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommandRunner_NotFound(t *testing.T) {
	_, err := CommandRunner{}.Run(context.Background(), time.Second, "depmgr-no-such-binary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in PATH")
}
