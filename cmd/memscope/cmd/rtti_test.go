package cmd

import (
	"testing"

	"github.com/blacktop/memscope/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTTIFlagKeys(t *testing.T) {
	initConfig()

	require.NoError(t, rttiCmd.Flags().Set("limit", "3"))
	t.Cleanup(func() { rttiCmd.Flags().Set("limit", "0") })
	assert.Equal(t, 3, viper.GetInt("rtti.cmd.limit"))

	t.Setenv("MEMSCOPE_RTTI_CMD_JSON", "true")
	assert.True(t, viper.GetBool("rtti.cmd.json"))

	// command flags share the rtti namespace without disturbing the config
	conf, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{".rdata"}, conf.RTTI.Sections.Name)
	assert.Equal(t, ".text", conf.RTTI.Sections.Code)
}
