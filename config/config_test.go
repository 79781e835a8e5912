// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-ccverify/register"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ccverify.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	alg, err := cfg.HashAlg()
	require.NoError(t, err)
	assert.Equal(t, register.HashSHA384, alg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
algorithm: sha256
registers: [1, 2]
policy: enabled
fetchTimeout: 5s
paths:
  runtimeLog: /tmp/ima
  quote: /tmp/quote.bin
logLevel: debug
format: json
`)
	got, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Algorithm = "sha256"
	want.Registers = []int{1, 2}
	want.Policy = PolicyEnabled
	want.FetchTimeout = 5 * time.Second
	want.Paths.RuntimeLog = "/tmp/ima"
	want.Paths.Quote = "/tmp/quote.bin"
	want.LogLevel = "debug"
	want.Format = "json"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "registers: [0, 1\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "policy: sometimes\n"))
	assert.ErrorContains(t, err, "unknown policy")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"algorithm", func(c *Config) { c.Algorithm = "md5" }},
		{"no registers", func(c *Config) { c.Registers = nil }},
		{"register range", func(c *Config) { c.Registers = []int{0, 4} }},
		{"runtime register", func(c *Config) { c.RuntimeRegister = -1 }},
		{"policy", func(c *Config) { c.Policy = "on" }},
		{"auto without parameter", func(c *Config) { c.BootParameter = "" }},
		{"timeout", func(c *Config) { c.FetchTimeout = -time.Second }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"format", func(c *Config) { c.Format = "xml" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Algorithm = "md5"
	cfg.Policy = "on"
	err := cfg.Validate()
	assert.ErrorIs(t, err, register.ErrUnsupportedAlg)
	assert.ErrorContains(t, err, "unknown policy")
}

func TestResolvePolicy(t *testing.T) {
	detectCalls := 0
	detect := func() (bool, error) {
		detectCalls++
		return true, nil
	}
	cfg := Default()

	cfg.Policy = PolicyDisabled
	active, err := cfg.ResolvePolicy(detect)
	require.NoError(t, err)
	assert.False(t, active)

	cfg.Policy = PolicyEnabled
	active, err = cfg.ResolvePolicy(detect)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Zero(t, detectCalls)

	cfg.Policy = PolicyAuto
	active, err = cfg.ResolvePolicy(detect)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, 1, detectCalls)

	boom := errors.New("cmdline unreadable")
	_, err = cfg.ResolvePolicy(func() (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}

func TestVerifyOptions(t *testing.T) {
	cfg := Default()
	opts, err := cfg.VerifyOptions(true, nil)
	require.NoError(t, err)
	assert.Equal(t, register.HashSHA384, opts.Alg)
	assert.Equal(t, 2, opts.RuntimeRegister)
	assert.True(t, opts.RuntimePolicyActive)
	assert.Equal(t, 30*time.Second, opts.FetchTimeout)
}
