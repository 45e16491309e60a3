// File: cmd/root_test.go
package cmd

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/director/api/schemas"
)

// TestRootCmd_VersionFlag tests if the --version flag works correctly.
func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "director version "+Version)
}

// TestRootCmd_NoArgs tests the behavior when no arguments are provided.
func TestRootCmd_NoArgs(t *testing.T) {
	out, err := executeCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Director drives a remote browser")
}

func TestRunCmd_RequiresGoal(t *testing.T) {
	useFakeFactory(t)
	_, err := executeCommand(t, "run")
	assert.Error(t, err)
}

func TestRunCmd_ExplicitConfigFileMustExist(t *testing.T) {
	useFakeFactory(t)
	_, err := executeCommand(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "run", "goal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize configuration")
}

func TestRunCmd_StreamsAndReleasesSession(t *testing.T) {
	f := useFakeFactory(t)

	out, err := executeCommand(t, "run", "what", "is", "the", "capital", "of", "France")
	require.NoError(t, err)

	assert.Contains(t, out, "session sess-1")
	assert.Contains(t, out, "live view: https://live.example/sess-1")
	assert.Contains(t, out, "https://www.google.com")
	assert.Contains(t, out, "finished: closed")
	assert.Equal(t, []string{"sess-1"}, f.bb.releasedIDs(), "the session is released exactly once")
}

func TestRunCmd_JSONOutput(t *testing.T) {
	useFakeFactory(t)

	out, err := executeCommand(t, "run", "--json", "find the weather")
	require.NoError(t, err)

	var types []schemas.EventType
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var event struct {
			Type schemas.EventType `json:"type"`
		}
		require.NoError(t, jsoniter.Unmarshal(sc.Bytes(), &event), "line: %s", sc.Text())
		types = append(types, event.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, schemas.EventBrowserSessionStarted, types[0])
	assert.Equal(t, schemas.EventRunFinished, types[len(types)-1])
}

func TestRunCmd_FlagsOverrideConfig(t *testing.T) {
	f := useFakeFactory(t)

	_, err := executeCommand(t, "run", "--max-steps", "3", "--action-timeout", "5s", "goal")
	require.NoError(t, err)
	require.NotNil(t, f.cfg)
	assert.Equal(t, 3, f.cfg.Agent().MaxSteps)
	assert.Equal(t, "5s", f.cfg.Agent().ActionTimeout.String())
}

func TestConfig_EnvironmentAndFile(t *testing.T) {
	f := useFakeFactory(t)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("agent:\n  max_steps: 7\n  url_probe_timeout: 2s\n"), 0o600))
	t.Setenv("DIRECTOR_AGENT_DECISION_RETRIES", "0")

	_, err := executeCommand(t, "--config", cfgPath, "run", "goal")
	require.NoError(t, err)
	assert.Equal(t, 7, f.cfg.Agent().MaxSteps)
	assert.Equal(t, 0, f.cfg.Agent().DecisionRetries)
}

func TestSessionCommands(t *testing.T) {
	c := useFakeSessionClient(t)

	out, err := executeCommand(t, "session", "create", "--conversation-id", "conv-1")
	require.NoError(t, err)
	assert.Contains(t, out, "session:   sess-9")
	assert.Contains(t, out, "live view: https://live.example/sess-9")
	assert.Equal(t, "conv-1", c.created.ConversationID)

	out, err = executeCommand(t, "session", "debug-url", "sess-9")
	require.NoError(t, err)
	assert.Equal(t, "https://debug.example/sess-9\n", out)

	out, err = executeCommand(t, "session", "end", "sess-9")
	require.NoError(t, err)
	assert.Contains(t, out, "released sess-9")
	assert.Equal(t, "sess-9", c.ended)

	_, err = executeCommand(t, "session", "end")
	assert.Error(t, err, "a session id is required")
}
