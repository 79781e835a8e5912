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

// Package runtimelog parses the runtime (IMA) measurement list that continues
// the chain of the designated runtime register after boot.
package runtimelog

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultPath is where the kernel exposes the ASCII runtime measurement list.
const DefaultPath = "/run/security/integrity/ima/ascii_runtime_measurements"

// DefaultBootParameter is the kernel command line token that makes the kernel
// extend runtime measurements into the runtime register.
const DefaultBootParameter = "ima_hash=sha384"

// digestField is the zero-based field holding the per-event digest.
const digestField = 2

// ErrShortLine is returned for a line with fewer than three fields.
var ErrShortLine = errors.New("runtime log line has fewer than three fields")

// LineError describes a runtime log line that could not be used.
type LineError struct {
	// Line is the one-based line number in the source.
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("runtime log line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Line is one record of the runtime measurement list. It carries no
// register index: every line belongs to the runtime register.
type Line struct {
	// Number is the one-based line number in the source.
	Number int
	Fields []string
}

// NewLine splits text into whitespace-separated fields. It fails if fewer
// than three fields are present.
func NewLine(number int, text string) (Line, error) {
	fields := strings.Fields(text)
	if len(fields) <= digestField {
		return Line{}, &LineError{Line: number, Err: ErrShortLine}
	}
	return Line{Number: number, Fields: fields}, nil
}

// DigestHex returns the third field, the hex digest of the event.
func (l Line) DigestHex() string {
	return l.Fields[digestField]
}

// Digest returns the decoded third field.
func (l Line) Digest() ([]byte, error) {
	d, err := hex.DecodeString(l.DigestHex())
	if err != nil {
		return nil, &LineError{Line: l.Number, Err: fmt.Errorf("decoding digest %q: %w", l.DigestHex(), err)}
	}
	return d, nil
}

// String returns the fields joined by single spaces.
func (l Line) String() string {
	return strings.Join(l.Fields, " ")
}

// Parse reads the measurement list from r. Blank lines are skipped.
func Parse(r io.Reader) ([]Line, error) {
	var lines []Line
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	number := 0
	for scanner.Scan() {
		number++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		line, err := NewLine(number, text)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading runtime log: %w", err)
	}
	return lines, nil
}

// PolicyActive reports whether param appears as a whole token of the kernel
// command line.
func PolicyActive(cmdline string, param string) bool {
	for _, tok := range strings.Fields(cmdline) {
		if tok == param {
			return true
		}
	}
	return false
}
