// Package config loads the YAML configuration the roram CLI reads its
// sizing parameters, backend choice, and encryption password from. Parsing
// is strict so a misspelled key fails loudly, and a missing password is
// prompted for on stdin rather than defaulted.
package config

import (
	"fmt"
	"io/ioutil"
	"path"
	"syscall"

	"golang.org/x/crypto/ssh/terminal"
	"gopkg.in/yaml.v2"
)

// Config is the on-disk shape of a roram CLI configuration file.
type Config struct {
	DataDir string `yaml:"data-dir"` // Directory session state and any file-backed trees live in. Default: .roram

	N int64 `yaml:"n"` // Number of logical blocks. Required.
	L int64 `yaml:"l"` // Maximum range size served per Access. Default: N
	Z int64 `yaml:"z"` // Bucket capacity, in blocks. Default: 4
	B int64 `yaml:"b"` // Payload size, in bytes. Default: 4096

	Backend string `yaml:"backend"` // "memory" or "file". Default: file

	Password string `yaml:"password"`  // Password for AES-CTR encryption. Prompted for if empty.
	NoCrypto bool   `yaml:"no-crypto"` // Use the deterministic no-op provider instead of AES. For tests only.

	CountSeeks bool `yaml:"count-seeks"` // Passed to NewCoordinator, which ignores it: backends always count seeks, and no per-access report is printed.
}

// FromFile reads and strictly parses a Config from the YAML file at p.
// Strict parsing catches a misspelled key instead of silently ignoring it.
func FromFile(p string) (*Config, error) {
	raw, err := ioutil.ReadFile(p)
	if err != nil {
		return nil, err
	}
	c := &Config{}
	if err := yaml.UnmarshalStrict(raw, c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = ".roram"
	}
	if c.L == 0 {
		c.L = c.N
	}
	if c.Z == 0 {
		c.Z = 4
	}
	if c.B == 0 {
		c.B = 4096
	}
	if c.Backend == "" {
		c.Backend = "file"
	}
}

// SessionPath returns the path to this configuration's sqlite session
// database.
func (c *Config) SessionPath() string {
	return path.Join(c.DataDir, "session.db")
}

// FilePrefix returns the path prefix passed to NewCoordinator when
// Backend is "file"; each sub-ORAM's tree file is named
// "<prefix>_tree<i>" by the coordinator itself.
func (c *Config) FilePrefix() string {
	return path.Join(c.DataDir, "store")
}

// ResolvePassword returns c.Password, prompting on stdin if it's empty.
// Prompting is skipped entirely when NoCrypto is set, since there's no key
// to derive.
func (c *Config) ResolvePassword() (string, error) {
	if c.NoCrypto {
		return "", nil
	}
	if c.Password != "" {
		return c.Password, nil
	}

	fmt.Print("Password: ")
	password, err := terminal.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed reading password from stdin: %v", err)
	} else if len(password) == 0 {
		return "", fmt.Errorf("no password given for encryption")
	}
	c.Password = string(password)
	return c.Password, nil
}
