package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/blacktop/memscope/pkg/pattern"
	"github.com/blacktop/memscope/pkg/singleton"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if yaml != "" {
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	}
	return v
}

func TestDefaults(t *testing.T) {
	c, err := Load(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, singleton.DefaultPattern, c.Discovery.Pattern)
	assert.Equal(t, ".text", c.Discovery.Sections.Code)
	assert.Equal(t, ".data", c.Discovery.Sections.Data)
	assert.Equal(t, []string{".rdata"}, c.RTTI.Sections.Name)
	assert.Equal(t, 256, c.RTTI.MaxName)
	assert.Equal(t, time.Second, c.Process.Wait)
	assert.Equal(t, 10, c.Process.Attempts)
	assert.Equal(t, 3, c.DiscoveryPattern().NumCaptures())
	assert.Len(t, c.DiscoveryOptions(), 2)
	assert.Len(t, c.ResolverOptions(), 4)
}

func TestOverrides(t *testing.T) {
	c, err := Load(newViper(t, `
rtti:
  sections:
    name: [".rdata", ".data"]
  max-name: 128
process:
  name: target.exe
  wait: 250ms
  attempts: 0
`))
	require.NoError(t, err)
	assert.Equal(t, []string{".rdata", ".data"}, c.RTTI.Sections.Name)
	assert.Equal(t, 128, c.RTTI.MaxName)
	assert.Equal(t, "target.exe", c.Process.Name)
	assert.Equal(t, 250*time.Millisecond, c.Process.Wait)
	assert.Equal(t, 1, c.Process.Attempts)
}

func TestVerifyErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad pattern", "discovery:\n  pattern: \"48 8B ZZ\"\n"},
		{"wrong capture count", "discovery:\n  pattern: \"E8 $'{ ?? ?? ?? ?? }\"\n"},
		{"max name", "rtti:\n  max-name: 100000\n"},
		{"empty section", "discovery:\n  sections:\n    code: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(t, tt.yaml))
			assert.Error(t, err)
		})
	}

	_, err := Load(newViper(t, "discovery:\n  pattern: \"48 8B ZZ\"\n"))
	var perr *pattern.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, pattern.BadHex, perr.Kind)
}
