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

// Package config holds the ccverify configuration file format.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/go-ccverify/register"
	"github.com/google/go-ccverify/report"
	"github.com/google/go-ccverify/runtimelog"
	"github.com/google/go-ccverify/verify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Policy selects how the runtime measurement policy flag is resolved.
type Policy string

// Policy modes.
const (
	// PolicyAuto reads the flag from the kernel command line.
	PolicyAuto     Policy = "auto"
	PolicyEnabled  Policy = "enabled"
	PolicyDisabled Policy = "disabled"
)

// Default sysfs and procfs locations on a TDX guest.
const (
	DefaultCCELTablePath = "/sys/firmware/acpi/tables/CCEL"
	DefaultCCELDataPath  = "/sys/firmware/acpi/tables/data/CCEL"
	DefaultCmdlinePath   = "/proc/cmdline"
)

// Paths locates the guest evidence.
type Paths struct {
	CCELTable  string `yaml:"ccelTable"`
	CCELData   string `yaml:"ccelData"`
	RuntimeLog string `yaml:"runtimeLog"`
	Cmdline    string `yaml:"cmdline"`
	// Quote is a TDX quote file, raw or QuoteV4 protobuf, holding the live
	// RTMR values.
	Quote string `yaml:"quote"`
}

// Config is the ccverify configuration.
type Config struct {
	Algorithm       string `yaml:"algorithm"`
	Registers       []int  `yaml:"registers"`
	RuntimeRegister int    `yaml:"runtimeRegister"`
	// BootParameter is the kernel command line token that enables runtime
	// measurements.
	BootParameter string        `yaml:"bootParameter"`
	Policy        Policy        `yaml:"policy"`
	FetchTimeout  time.Duration `yaml:"fetchTimeout"`
	Paths         Paths         `yaml:"paths"`
	LogLevel      string        `yaml:"logLevel"`
	Format        string        `yaml:"format"`
}

// Default returns the TDX profile configuration.
func Default() Config {
	return Config{
		Algorithm:       register.HashSHA384.String(),
		Registers:       []int{0, 1, 2, 3},
		RuntimeRegister: verify.DefaultRuntimeRegister,
		BootParameter:   runtimelog.DefaultBootParameter,
		Policy:          PolicyAuto,
		FetchTimeout:    30 * time.Second,
		Paths: Paths{
			CCELTable:  DefaultCCELTablePath,
			CCELData:   DefaultCCELDataPath,
			RuntimeLog: runtimelog.DefaultPath,
			Cmdline:    DefaultCmdlinePath,
		},
		LogLevel: logrus.InfoLevel.String(),
		Format:   string(report.FormatText),
	}
}

// Load reads a YAML file over the defaults and validates the result. Keys
// missing from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if _, err := register.ParseHashAlg(c.Algorithm); err != nil {
		errs = append(errs, err)
	}
	if len(c.Registers) == 0 {
		errs = append(errs, errors.New("no registers selected"))
	}
	for _, idx := range c.Registers {
		if idx < 0 || idx >= register.RTMRCount {
			errs = append(errs, fmt.Errorf("register %d out of range [0, %d)", idx, register.RTMRCount))
		}
	}
	if c.RuntimeRegister < 0 || c.RuntimeRegister >= register.RTMRCount {
		errs = append(errs, fmt.Errorf("runtime register %d out of range [0, %d)", c.RuntimeRegister, register.RTMRCount))
	}
	switch c.Policy {
	case PolicyAuto, PolicyEnabled, PolicyDisabled:
	default:
		errs = append(errs, fmt.Errorf("unknown policy %q", c.Policy))
	}
	if c.Policy == PolicyAuto && c.BootParameter == "" {
		errs = append(errs, errors.New("policy auto needs a boot parameter"))
	}
	if c.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("negative fetch timeout %v", c.FetchTimeout))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := report.ParseFormat(c.Format); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HashAlg returns the configured register algorithm.
func (c Config) HashAlg() (register.HashAlg, error) {
	return register.ParseHashAlg(c.Algorithm)
}

// ResolvePolicy returns the runtime policy flag. In auto mode, detect is
// called to read the kernel command line.
func (c Config) ResolvePolicy(detect func() (bool, error)) (bool, error) {
	switch c.Policy {
	case PolicyEnabled:
		return true, nil
	case PolicyDisabled:
		return false, nil
	case PolicyAuto:
		if detect == nil {
			return false, errors.New("policy auto without a detector")
		}
		return detect()
	}
	return false, fmt.Errorf("unknown policy %q", c.Policy)
}

// VerifyOptions returns verifier options for the configuration and the
// resolved policy flag.
func (c Config) VerifyOptions(policyActive bool, log logrus.FieldLogger) (verify.Options, error) {
	alg, err := c.HashAlg()
	if err != nil {
		return verify.Options{}, err
	}
	return verify.Options{
		Alg:                 alg,
		RuntimeRegister:     c.RuntimeRegister,
		RuntimePolicyActive: policyActive,
		FetchTimeout:        c.FetchTimeout,
		Logger:              log,
		RegisterName:        "RTMR",
	}, nil
}
