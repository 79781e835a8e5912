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

// Package sysfs reads measurement evidence from a running TDX guest: the CCEL
// published by firmware through ACPI, the kernel's IMA runtime measurement
// list and the kernel command line.
package sysfs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-ccverify/ccel"
	"github.com/google/go-ccverify/runtimelog"
	"github.com/google/go-ccverify/tcg"
)

// Paths locates the guest files.
type Paths struct {
	CCELTable  string
	CCELData   string
	RuntimeLog string
	Cmdline    string
}

// Source serves the boot and runtime event logs of the local guest.
type Source struct {
	paths         Paths
	bootParameter string
}

// New returns a Source reading from paths. bootParameter is the command line
// token that enables runtime measurements.
func New(paths Paths, bootParameter string) *Source {
	return &Source{paths: paths, bootParameter: bootParameter}
}

func readFile(ctx context.Context, what, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("no %s path configured", what)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", what, err)
	}
	return b, nil
}

// RawBootEventLog returns the CCEL ACPI table and the CCEL bytes unparsed.
func (s *Source) RawBootEventLog(ctx context.Context) (table, data []byte, err error) {
	table, err = readFile(ctx, "CCEL ACPI table", s.paths.CCELTable)
	if err != nil {
		return nil, nil, err
	}
	data, err = readFile(ctx, "CCEL", s.paths.CCELData)
	if err != nil {
		return nil, nil, err
	}
	return table, data, nil
}

// BootEventLog returns the CCEL entries, indexed by RTMR.
func (s *Source) BootEventLog(ctx context.Context) ([]tcg.Entry, error) {
	table, data, err := s.RawBootEventLog(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := ccel.ParseEventLog(table, data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.paths.CCELData, err)
	}
	return entries, nil
}

// RawRuntimeEventLog returns the runtime measurement list as text.
func (s *Source) RawRuntimeEventLog(ctx context.Context) ([]byte, error) {
	return readFile(ctx, "runtime measurement list", s.paths.RuntimeLog)
}

// RuntimeEventLog returns the parsed runtime measurement list.
func (s *Source) RuntimeEventLog(ctx context.Context) ([]runtimelog.Line, error) {
	raw, err := s.RawRuntimeEventLog(ctx)
	if err != nil {
		return nil, err
	}
	lines, err := runtimelog.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.paths.RuntimeLog, err)
	}
	return lines, nil
}

// Cmdline returns the kernel command line.
func (s *Source) Cmdline() (string, error) {
	b, err := readFile(context.Background(), "kernel command line", s.paths.Cmdline)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// RuntimePolicyActive reports whether the kernel command line carries the
// boot parameter.
func (s *Source) RuntimePolicyActive() (bool, error) {
	cmdline, err := s.Cmdline()
	if err != nil {
		return false, err
	}
	return runtimelog.PolicyActive(cmdline, s.bootParameter), nil
}
