package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/plugterm/internal/app"
	"github.com/vovakirdan/plugterm/internal/core"
)

func TestVersionCommand(t *testing.T) {
	code := core.ExitOK
	root := newRootCmd(&code)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "plugterm "+app.Version+" "), out.String())
}

func TestUnknownFlagFails(t *testing.T) {
	assert.Equal(t, core.ExitFatal, run([]string{"--no-such-flag"}))
}

func TestMissingTokenFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLUGTERM_CONFIG_DEFAULT_PATH", dir)

	code := run([]string{
		"plain",
		"--token", filepath.Join(dir, "absent"),
		"--log-file", filepath.Join(dir, "plugterm.log"),
	})
	assert.Equal(t, core.ExitFatal, code)
}

func TestInvalidOverrideFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLUGTERM_CONFIG_DEFAULT_PATH", dir)

	code := run([]string{"plain", "--gateway", "http://not-a-websocket"})
	assert.Equal(t, core.ExitFatal, code)
}
