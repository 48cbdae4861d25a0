package main

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picorelay/cmd/picorelay/internal"
)

func TestNewPicorelayCommand(t *testing.T) {
	cmd := NewPicorelayCommand()

	require.NotNil(t, cmd)

	short := fmt.Sprintf("%s picorelay - Telegram remote control for your agent v%s\n\n", internal.Logo, internal.GetVersion())

	assert.Equal(t, "picorelay", cmd.Use)
	assert.Equal(t, short, cmd.Short)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)

	assert.True(t, cmd.HasSubCommands())
	assert.True(t, cmd.HasAvailableSubCommands())

	assert.False(t, cmd.HasFlags())

	assert.Nil(t, cmd.Run)
	assert.Nil(t, cmd.RunE)

	allowedCommands := []string{
		"audit",
		"gateway",
		"onboard",
		"status",
		"version",
	}

	subcommands := cmd.Commands()
	assert.Len(t, subcommands, len(allowedCommands))

	for _, subcmd := range subcommands {
		found := slices.Contains(allowedCommands, subcmd.Name())
		assert.True(t, found, "unexpected subcommand %q", subcmd.Name())

		assert.False(t, subcmd.Hidden)
	}
}
