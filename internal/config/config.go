// Package config is used to load the configuration file
package config

import (
	"fmt"
	"time"

	"github.com/blacktop/memscope/pkg/pattern"
	"github.com/blacktop/memscope/pkg/rtti"
	"github.com/blacktop/memscope/pkg/singleton"
	"github.com/spf13/viper"
)

type sections struct {
	Code string   `mapstructure:"code"`
	Data string   `mapstructure:"data"`
	Meta string   `mapstructure:"meta"`
	Name []string `mapstructure:"name"`
}

type discovery struct {
	Pattern  string   `mapstructure:"pattern"`
	Sections sections `mapstructure:"sections"`
	Disasm   bool     `mapstructure:"disasm"`
}

type rttiConfig struct {
	Sections sections `mapstructure:"sections"`
	MaxName  int      `mapstructure:"max-name"`
	Cache    int      `mapstructure:"cache"`
}

type process struct {
	Name     string        `mapstructure:"name"`
	Module   string        `mapstructure:"module"`
	Wait     time.Duration `mapstructure:"wait"`
	Attempts int           `mapstructure:"attempts"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Config is the configuration struct
type Config struct {
	Discovery discovery  `mapstructure:"discovery"`
	RTTI      rttiConfig `mapstructure:"rtti"`
	Process   process    `mapstructure:"process"`

	compiled *pattern.Pattern
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("discovery.pattern", singleton.DefaultPattern)
	v.SetDefault("discovery.sections.code", ".text")
	v.SetDefault("discovery.sections.data", ".data")
	v.SetDefault("discovery.disasm", true)
	v.SetDefault("rtti.sections.meta", ".rdata")
	v.SetDefault("rtti.sections.code", ".text")
	v.SetDefault("rtti.sections.name", []string{".rdata"})
	v.SetDefault("rtti.max-name", rtti.MaxNameLen)
	v.SetDefault("rtti.cache", rtti.DefaultDemangleCacheSize)
	v.SetDefault("process.wait", time.Second)
	v.SetDefault("process.attempts", 10)
	v.SetDefault("process.timeout", 5*time.Second)
}

func (c *Config) verify() error {
	p, err := pattern.Compile(c.Discovery.Pattern)
	if err != nil {
		return fmt.Errorf("discovery.pattern: %w", err)
	}
	if p.NumCaptures() != 3 {
		return fmt.Errorf("discovery.pattern: need 3 captures (slot, metadata, name routine), got %d", p.NumCaptures())
	}
	c.compiled = p

	if c.Discovery.Sections.Code == "" || c.Discovery.Sections.Data == "" {
		return fmt.Errorf("discovery.sections: code and data must be set")
	}
	if c.RTTI.Sections.Meta == "" || c.RTTI.Sections.Code == "" {
		return fmt.Errorf("rtti.sections: meta and code must be set")
	}
	if len(c.RTTI.Sections.Name) == 0 {
		c.RTTI.Sections.Name = []string{c.RTTI.Sections.Meta}
	}
	if c.RTTI.MaxName <= 0 || c.RTTI.MaxName > 4096 {
		return fmt.Errorf("rtti.max-name must be in 1..4096, got %d", c.RTTI.MaxName)
	}
	if c.Process.Attempts < 1 {
		c.Process.Attempts = 1
	}
	if c.Process.Wait < 0 || c.Process.Timeout < 0 {
		return fmt.Errorf("process: durations must not be negative")
	}
	return nil
}

// DiscoveryPattern returns the compiled discovery.pattern.
func (c *Config) DiscoveryPattern() *pattern.Pattern {
	return c.compiled
}

// DiscoveryOptions converts the discovery section into singleton options.
func (c *Config) DiscoveryOptions() []singleton.Option {
	return []singleton.Option{
		singleton.WithPattern(c.compiled),
		singleton.WithSections(c.Discovery.Sections.Code, c.Discovery.Sections.Data),
	}
}

// ResolverOptions converts the rtti section into resolver options.
func (c *Config) ResolverOptions() []rtti.Option {
	return []rtti.Option{
		rtti.WithSections(c.RTTI.Sections.Meta, c.RTTI.Sections.Code),
		rtti.WithNameSections(c.RTTI.Sections.Name...),
		rtti.WithMaxName(c.RTTI.MaxName),
		rtti.WithDemangler(rtti.NewDemangler(c.RTTI.Cache)),
	}
}

// LoadConfig loads the configuration from the global viper instance.
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

// Load unmarshals and verifies the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config

	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %w", err)
	}

	return &c, nil
}
