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

// Package cmd implements the ccverify commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/google/go-ccverify/config"
	"github.com/google/go-ccverify/report"
	"github.com/google/go-ccverify/source/sysfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// errNotVerified is returned when at least one register did not verify.
var errNotVerified = errors.New("not every register verified")

// globals holds the persistent flags and the state they resolve to.
type globals struct {
	configPath string
	noColor    bool

	// Flag values overriding the configuration when set.
	alg        string
	registers  []int
	policy     string
	bootParam  string
	timeout    time.Duration
	logLevel   string
	format     string
	ccelTable  string
	ccelData   string
	runtimeLog string
	cmdline    string
	quote      string

	cfg config.Config
	log *logrus.Logger
}

// NewRootCommand returns the ccverify command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "ccverify",
		Short: "Verify TDX RTMRs against the measured boot event logs",
		Long: `ccverify recomputes the TDX runtime measurement registers from the
firmware's CC event log (CCEL) and, for RTMR[2], the kernel's IMA runtime
measurement list, and compares them with the values reported in a TD quote.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.resolve(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	flags.BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&g.alg, "alg", "", "Register hash algorithm (sha384, sha256, ...)")
	flags.IntSliceVarP(&g.registers, "registers", "r", nil, "RTMR indexes to verify")
	flags.StringVar(&g.policy, "policy", "", "Runtime measurement policy: auto, enabled or disabled")
	flags.StringVar(&g.bootParam, "boot-parameter", "", "Kernel command line token enabling runtime measurements")
	flags.DurationVar(&g.timeout, "timeout", 0, "Timeout of every evidence fetch, e.g. 30s")
	flags.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVarP(&g.format, "output", "o", "", "Report format: text or json")
	flags.StringVar(&g.ccelTable, "ccel-table", "", "CCEL ACPI table path")
	flags.StringVar(&g.ccelData, "ccel-data", "", "CCEL data path")
	flags.StringVar(&g.runtimeLog, "runtime-log", "", "IMA ASCII runtime measurement list path")
	flags.StringVar(&g.cmdline, "cmdline", "", "Kernel command line path")
	flags.StringVar(&g.quote, "quote", "", "TD quote file holding the live RTMRs")

	root.AddCommand(newVerifyCommand(g), newReplayCommand(g), newCaptureCommand(g))
	return root
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// resolve loads the configuration, applies the flags that were set and sets
// up logging.
func (g *globals) resolve(cmd *cobra.Command) error {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("alg", &cfg.Algorithm, g.alg)
	set("boot-parameter", &cfg.BootParameter, g.bootParam)
	set("log-level", &cfg.LogLevel, g.logLevel)
	set("output", &cfg.Format, g.format)
	set("ccel-table", &cfg.Paths.CCELTable, g.ccelTable)
	set("ccel-data", &cfg.Paths.CCELData, g.ccelData)
	set("runtime-log", &cfg.Paths.RuntimeLog, g.runtimeLog)
	set("cmdline", &cfg.Paths.Cmdline, g.cmdline)
	set("quote", &cfg.Paths.Quote, g.quote)
	if flags.Changed("policy") {
		cfg.Policy = config.Policy(g.policy)
	}
	if flags.Changed("registers") {
		cfg.Registers = g.registers
	}
	if flags.Changed("timeout") {
		cfg.FetchTimeout = g.timeout
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	g.cfg = cfg

	level, _ := logrus.ParseLevel(cfg.LogLevel)
	g.log = logrus.New()
	g.log.SetOutput(cmd.ErrOrStderr())
	g.log.SetLevel(level)
	g.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

func (g *globals) colored(w io.Writer) bool {
	if g.noColor {
		return false
	}
	f, ok := w.(*os.File)
	return ok && f == os.Stdout && !color.NoColor
}

func (g *globals) reportFormat() report.Format {
	f, _ := report.ParseFormat(g.cfg.Format)
	return f
}

func (g *globals) guest() *sysfs.Source {
	return sysfs.New(sysfs.Paths{
		CCELTable:  g.cfg.Paths.CCELTable,
		CCELData:   g.cfg.Paths.CCELData,
		RuntimeLog: g.cfg.Paths.RuntimeLog,
		Cmdline:    g.cfg.Paths.Cmdline,
	}, g.cfg.BootParameter)
}
