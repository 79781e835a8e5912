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

package runtimelog

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	in := "10 aabb ccdd ima-ng sha384:0011 /usr/bin/true\n" +
		"\n" +
		"   \n" +
		"11\tff00\t0102 boot_aggregate\n"
	lines, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	want := []Line{
		{Number: 1, Fields: []string{"10", "aabb", "ccdd", "ima-ng", "sha384:0011", "/usr/bin/true"}},
		{Number: 4, Fields: []string{"11", "ff00", "0102", "boot_aggregate"}},
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
	if got := lines[0].DigestHex(); got != "ccdd" {
		t.Errorf("DigestHex() = %q, want ccdd", got)
	}
	d, err := lines[1].Digest()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x01, 0x02}, d); diff != "" {
		t.Errorf("Digest() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseShortLine(t *testing.T) {
	_, err := Parse(strings.NewReader("10 aa bb\n10 aa\n"))
	if !errors.Is(err, ErrShortLine) {
		t.Fatalf("Parse() error = %v, want ErrShortLine", err)
	}
	var lineErr *LineError
	if !errors.As(err, &lineErr) || lineErr.Line != 2 {
		t.Errorf("Parse() error = %v, want LineError on line 2", err)
	}
}

func TestDigestInvalidHex(t *testing.T) {
	line, err := NewLine(7, "10 aa zz")
	if err != nil {
		t.Fatal(err)
	}
	_, err = line.Digest()
	var lineErr *LineError
	if !errors.As(err, &lineErr) || lineErr.Line != 7 {
		t.Errorf("Digest() error = %v, want LineError on line 7", err)
	}
}

func TestPolicyActive(t *testing.T) {
	tests := []struct {
		cmdline string
		want    bool
	}{
		{"BOOT_IMAGE=/vmlinuz ro ima_hash=sha384 console=ttyS0\n", true},
		{"ima_hash=sha384", true},
		{"ima_hash=sha256 console=ttyS0", false},
		{"ima_hash=sha3840", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := PolicyActive(tt.cmdline, DefaultBootParameter); got != tt.want {
			t.Errorf("PolicyActive(%q) = %v, want %v", tt.cmdline, got, tt.want)
		}
	}
}
