package main

import (
	"os"

	"github.com/BurntSushi/toml"
)

type config struct {
	Nameservers    []string `toml:"nameservers"`
	PoolSize       int      `toml:"pool-size"`
	MaxRecursion   int      `toml:"max-recursion"`
	MaxRetries     int      `toml:"max-retries"`
	QueryTimeoutMs int      `toml:"query-timeout-ms"`
	Parallel       *bool    `toml:"parallel"`
	DNSSEC         *bool    `toml:"dnssec"`
	LogLevel       string   `toml:"log-level"`

	Syslog *syslogConfig `toml:"syslog"`
}

type syslogConfig struct {
	Network  string `toml:"network"`
	Address  string `toml:"address"`
	Priority int    `toml:"priority"`
	Tag      string `toml:"tag"`
}

// loadConfig reads a config file and returns the decoded structure.
func loadConfig(name string) (config, error) {
	var c config
	f, err := os.Open(name)
	if err != nil {
		return c, err
	}
	defer f.Close()
	_, err = toml.NewDecoder(f).Decode(&c)
	return c, err
}
