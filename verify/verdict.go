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

package verify

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/go-ccverify/register"
	"github.com/google/uuid"
)

// Failure reasons, usable with errors.Is on Verdict.Err.
var (
	ErrSourceUnavailable      = errors.New("event log source unavailable")
	ErrMeasurementUnavailable = errors.New("live measurement unavailable")
	ErrReplay                 = errors.New("event log replay failed")
)

// State is a step of the per-register verification state machine.
type State int

// Verification states. Verified, Mismatch and Failed are terminal.
const (
	Idle State = iota
	FetchingLog
	Replaying
	FetchingLiveValue
	Comparing
	Verified
	Mismatch
	Failed
)

var stateNames = map[State]string{
	Idle:              "Idle",
	FetchingLog:       "FetchingLog",
	Replaying:         "Replaying",
	FetchingLiveValue: "FetchingLiveValue",
	Comparing:         "Comparing",
	Verified:          "Verified",
	Mismatch:          "Mismatch",
	Failed:            "Failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s ends a verification.
func (s State) Terminal() bool {
	return s == Verified || s == Mismatch || s == Failed
}

// Reason explains a Failed verdict.
type Reason int

// Failure reasons.
const (
	ReasonNone Reason = iota
	ReasonSourceUnavailable
	ReasonMeasurementUnavailable
	ReasonReplayFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonSourceUnavailable:
		return "SourceUnavailable"
	case ReasonMeasurementUnavailable:
		return "MeasurementUnavailable"
	case ReasonReplayFailed:
		return "ReplayFailed"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Verdict is the outcome of verifying one register.
type Verdict struct {
	Register int
	// State is Verified, Mismatch or Failed.
	State State
	// Reason is set for Failed verdicts only.
	Reason Reason
	// Err holds the failure for Failed verdicts. It wraps one of
	// ErrSourceUnavailable, ErrMeasurementUnavailable or ErrReplay.
	Err error

	// Replayed is the register value recomputed from the logs. It is unset
	// when the replay did not complete.
	Replayed register.Value
	// Live is the value reported by the root of trust. It is unset when it
	// was not fetched.
	Live register.Value

	// BootEvents is the number of boot-time entries replayed for the
	// register.
	BootEvents int
	// RuntimeEvents is the number of runtime log lines replayed. It is zero
	// unless runtime replay applied to the register.
	RuntimeEvents int
	// RuntimeReplayed is true when the runtime log continued the chain.
	RuntimeReplayed bool
}

func (v Verdict) String() string {
	if v.State == Failed {
		return fmt.Sprintf("register %d: %v(%v): %v", v.Register, v.State, v.Reason, v.Err)
	}
	return fmt.Sprintf("register %d: %v", v.Register, v.State)
}

// Report enumerates the verdict of every requested register.
type Report struct {
	ID                  uuid.UUID
	Alg                 register.HashAlg
	RuntimeRegister     int
	RuntimePolicyActive bool
	// RegisterName is the register family, e.g. "RTMR" or "PCR".
	RegisterName string
	Verdicts     map[int]Verdict
}

// Label names register idx, e.g. "RTMR[2]".
func (r *Report) Label(idx int) string {
	name := r.RegisterName
	if name == "" {
		name = "MR"
	}
	return fmt.Sprintf("%s[%d]", name, idx)
}

// HasRuntimeRegister reports whether a register of the report can be
// continued by a runtime log.
func (r *Report) HasRuntimeRegister() bool {
	return r.RuntimeRegister >= 0
}

// Registers returns the verified register indexes in ascending order.
func (r *Report) Registers() []int {
	idxs := make([]int, 0, len(r.Verdicts))
	for idx := range r.Verdicts {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs
}

// Counts returns the number of Verified, Mismatch and Failed verdicts.
func (r *Report) Counts() (verified, mismatched, failed int) {
	for _, v := range r.Verdicts {
		switch v.State {
		case Verified:
			verified++
		case Mismatch:
			mismatched++
		case Failed:
			failed++
		}
	}
	return verified, mismatched, failed
}

// OK reports whether every register verified.
func (r *Report) OK() bool {
	verified, _, _ := r.Counts()
	return len(r.Verdicts) > 0 && verified == len(r.Verdicts)
}
