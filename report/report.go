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

// Package report renders verification reports for people and for machines.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/google/go-ccverify/register"
	"github.com/google/go-ccverify/verify"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Format selects a report rendering.
type Format string

// Supported formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat returns the Format named by s.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatText, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown report format %q (want %q or %q)", s, FormatText, FormatJSON)
}

// Write renders r to w in format f. Colors only apply to the text format.
func Write(w io.Writer, r *verify.Report, f Format, colored bool) error {
	switch f {
	case FormatText:
		return Text(w, r, colored)
	case FormatJSON:
		out, err := JSON(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}
	return fmt.Errorf("unknown report format %q", f)
}

type palette struct {
	ok, warn, bad, dim *color.Color
}

func newPalette(colored bool) palette {
	p := palette{
		ok:   color.New(color.FgGreen, color.Bold),
		warn: color.New(color.FgYellow, color.Bold),
		bad:  color.New(color.FgRed, color.Bold),
		dim:  color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.ok, p.warn, p.bad, p.dim} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) state(s verify.State) *color.Color {
	switch s {
	case verify.Verified:
		return p.ok
	case verify.Mismatch:
		return p.warn
	default:
		return p.bad
	}
}

// Text writes a human-readable report, one block per register.
func Text(w io.Writer, r *verify.Report, colored bool) error {
	p := newPalette(colored)
	runtime := "no runtime register"
	if r.HasRuntimeRegister() {
		policy := "inactive"
		if r.RuntimePolicyActive {
			policy = "active"
		}
		runtime = fmt.Sprintf("runtime register %s (policy %s)", r.Label(r.RuntimeRegister), policy)
	}
	if _, err := fmt.Fprintf(w, "report %s\nalgorithm %v, %s\n\n", r.ID, r.Alg, runtime); err != nil {
		return err
	}
	for _, idx := range r.Registers() {
		v := r.Verdicts[idx]
		state := v.State.String()
		if v.State == verify.Failed {
			state = fmt.Sprintf("%v(%v)", v.State, v.Reason)
		}
		if _, err := fmt.Fprintf(w, "%s  %s  %s\n", r.Label(idx), p.state(v.State).Sprint(state),
			p.dim.Sprintf("boot events %d, runtime events %d", v.BootEvents, v.RuntimeEvents)); err != nil {
			return err
		}
		if !v.Replayed.IsZero() {
			if _, err := fmt.Fprintf(w, "  replayed %s\n", v.Replayed.Hex()); err != nil {
				return err
			}
		}
		if !v.Live.IsZero() {
			if _, err := fmt.Fprintf(w, "  live     %s\n", v.Live.Hex()); err != nil {
				return err
			}
		}
		if v.Err != nil {
			if _, err := fmt.Fprintf(w, "  error    %v\n", v.Err); err != nil {
				return err
			}
		}
	}
	verified, mismatched, failed := r.Counts()
	summary := p.ok
	if !r.OK() {
		summary = p.bad
	}
	_, err := fmt.Fprintf(w, "\n%s\n", summary.Sprintf("%d verified, %d mismatched, %d failed", verified, mismatched, failed))
	return err
}

// Struct converts r into a protobuf Struct. Register values are lowercase
// hex; unset values and errors are omitted.
func Struct(r *verify.Report) (*structpb.Struct, error) {
	verdicts := make([]any, 0, len(r.Verdicts))
	for _, idx := range r.Registers() {
		v := r.Verdicts[idx]
		m := map[string]any{
			"register":        idx,
			"label":           r.Label(idx),
			"state":           v.State.String(),
			"bootEvents":      v.BootEvents,
			"runtimeEvents":   v.RuntimeEvents,
			"runtimeReplayed": v.RuntimeReplayed,
		}
		if v.State == verify.Failed {
			m["reason"] = v.Reason.String()
		}
		if !v.Replayed.IsZero() {
			m["replayed"] = v.Replayed.Hex()
		}
		if !v.Live.IsZero() {
			m["live"] = v.Live.Hex()
		}
		if v.Err != nil {
			m["error"] = v.Err.Error()
		}
		verdicts = append(verdicts, m)
	}
	verified, mismatched, failed := r.Counts()
	return structpb.NewStruct(map[string]any{
		"id":                  r.ID.String(),
		"algorithm":           r.Alg.String(),
		"runtimeRegister":     r.RuntimeRegister,
		"runtimePolicyActive": r.RuntimePolicyActive,
		"ok":                  r.OK(),
		"verified":            verified,
		"mismatched":          mismatched,
		"failed":              failed,
		"verdicts":            verdicts,
	})
}

// JSON renders r as indented JSON.
func JSON(r *verify.Report) ([]byte, error) {
	s, err := Struct(r)
	if err != nil {
		return nil, fmt.Errorf("converting report: %w", err)
	}
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
}

// Values writes replayed register values, one per line, in ascending
// register order. name labels the registers, e.g. "RTMR".
func Values(w io.Writer, name string, values map[int]register.Value) error {
	idxs := make([]int, 0, len(values))
	for idx := range values {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		if _, err := fmt.Fprintf(w, "%s[%d] %v\n", name, idx, values[idx]); err != nil {
			return err
		}
	}
	return nil
}
