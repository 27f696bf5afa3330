//go:build unix

package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// running reports whether pid is alive. Zombies waiting for a reaper count
// as gone.
func running(pid int) bool {
	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	return !strings.Contains(string(stat), ") Z ")
}

func TestShellTimeoutKillsChildren(t *testing.T) {
	env := shellEnv(t)
	state := env.(*shellEnvironment).ws.State

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := env.Exec(ctx, `sleep 37 & echo $! > "$DOTMATRIX_STATE/child"; wait; echo after`, &bytes.Buffer{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)

	raw, err := os.ReadFile(filepath.Join(state, "child"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return !running(pid) }, 2*time.Second, 20*time.Millisecond,
		"child %d still running after the command timed out", pid)
}
