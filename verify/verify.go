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

// Package verify drives event log replay for a set of registers and compares
// the replayed values with the values reported by a root of trust.
//
// Each register goes through its own state machine:
//
//	Idle -> FetchingLog -> Replaying -> FetchingLiveValue -> Comparing -> {Verified, Mismatch}
//
// with any fetch or replay failure ending in Failed. A failure of one
// register never stops the verification of the others.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/go-ccverify/register"
	"github.com/google/go-ccverify/replay"
	"github.com/google/go-ccverify/runtimelog"
	"github.com/google/go-ccverify/tcg"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultRuntimeRegister is the register the kernel extends runtime
// measurements into: RTMR[2].
const DefaultRuntimeRegister = 2

// BootLogSource returns the boot-time event log. Entries must be in log
// order and indexed by the register they were extended into.
type BootLogSource interface {
	BootEventLog(ctx context.Context) ([]tcg.Entry, error)
}

// RuntimeLogSource returns the runtime measurement list, in log order.
type RuntimeLogSource interface {
	RuntimeEventLog(ctx context.Context) ([]runtimelog.Line, error)
}

// MeasurementSource returns the live value of a register as reported by the
// hardware or firmware root of trust.
type MeasurementSource interface {
	Measurement(ctx context.Context, index int, alg register.HashAlg) (register.Value, error)
}

// Options configures a Verifier.
type Options struct {
	// Alg is the register bank algorithm.
	Alg register.HashAlg
	// RuntimeRegister is the register continued by the runtime log.
	RuntimeRegister int
	// RuntimePolicyActive reports whether the platform extends runtime
	// measurements into RuntimeRegister. When false the runtime log is never
	// fetched.
	RuntimePolicyActive bool
	// FetchTimeout bounds every call to a source. Zero means no bound beyond
	// the caller's context.
	FetchTimeout time.Duration
	// StartupLocality seeds register 0 with the locality announced by a
	// StartupLocality EV_NO_ACTION event. Only TPM PCR0 is seeded this way.
	StartupLocality bool
	// RegisterName labels registers in reports, e.g. "RTMR" or "PCR".
	RegisterName string
	// Logger receives state transitions and verdicts. Nil discards them.
	Logger logrus.FieldLogger
}

// DefaultOptions returns the options of the TDX profile: SHA-384 registers
// with runtime measurements in RTMR[2].
func DefaultOptions() Options {
	return Options{
		Alg:             register.HashSHA384,
		RuntimeRegister: DefaultRuntimeRegister,
		RegisterName:    "RTMR",
	}
}

// Verifier verifies registers against their event logs. It holds no state
// between calls and is safe for concurrent use.
type Verifier struct {
	boot    BootLogSource
	runtime RuntimeLogSource
	live    MeasurementSource
	opts    Options
	log     logrus.FieldLogger
}

// New returns a Verifier. runtime may be nil when opts.RuntimePolicyActive is
// false; if the policy is active, the runtime register then fails with
// ErrSourceUnavailable. live may be nil for a Verifier that only replays;
// verification then fails with ErrMeasurementUnavailable.
func New(boot BootLogSource, runtime RuntimeLogSource, live MeasurementSource, opts Options) (*Verifier, error) {
	if boot == nil {
		return nil, errors.New("verify: nil boot log source")
	}
	if !opts.Alg.Valid() {
		return nil, fmt.Errorf("verify: %w: %v", register.ErrUnsupportedAlg, opts.Alg)
	}
	if opts.FetchTimeout < 0 {
		return nil, fmt.Errorf("verify: negative fetch timeout %v", opts.FetchTimeout)
	}
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Verifier{
		boot:    boot,
		runtime: runtime,
		live:    live,
		opts:    opts,
		log:     log,
	}, nil
}

// Verify verifies every register in idxs concurrently and returns one verdict
// per distinct index.
func (v *Verifier) Verify(ctx context.Context, idxs []int) *Report {
	report := &Report{
		ID:                  uuid.New(),
		Alg:                 v.opts.Alg,
		RuntimeRegister:     v.opts.RuntimeRegister,
		RuntimePolicyActive: v.opts.RuntimePolicyActive,
		RegisterName:        v.opts.RegisterName,
		Verdicts:            make(map[int]Verdict, len(idxs)),
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	seen := make(map[int]bool, len(idxs))
	for _, idx := range idxs {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			verdict := v.VerifyRegister(ctx, idx)
			mu.Lock()
			report.Verdicts[idx] = verdict
			mu.Unlock()
		}(idx)
	}
	wg.Wait()

	verified, mismatched, failed := report.Counts()
	v.log.WithFields(logrus.Fields{
		"report":     report.ID.String(),
		"verified":   verified,
		"mismatched": mismatched,
		"failed":     failed,
	}).Info("verification finished")
	return report
}

// VerifyRegister runs the verification state machine for register idx.
func (v *Verifier) VerifyRegister(ctx context.Context, idx int) Verdict {
	r := &registerRun{
		v:       v,
		verdict: Verdict{Register: idx, State: Idle},
		log:     v.log.WithField("register", idx),
	}
	r.run(ctx)
	return r.verdict
}

type registerRun struct {
	v       *Verifier
	verdict Verdict
	log     logrus.FieldLogger
}

func (r *registerRun) transition(s State) {
	r.log.WithFields(logrus.Fields{"from": r.verdict.State.String(), "state": s.String()}).Debug("state transition")
	r.verdict.State = s
}

func (r *registerRun) fail(reason Reason, err error) {
	r.verdict.Reason = reason
	r.verdict.Err = err
	r.transition(Failed)
	r.log.WithError(err).WithField("reason", reason.String()).Error("register verification failed")
}

func (r *registerRun) run(ctx context.Context) {
	idx := r.verdict.Register

	r.transition(FetchingLog)
	entries, lines, err := r.v.fetchLogs(ctx, r.v.runtimeApplies(idx))
	if err != nil {
		r.fail(ReasonSourceUnavailable, err)
		return
	}

	r.transition(Replaying)
	res, err := r.v.replay(idx, replay.ForRegister(entries, idx), lines)
	if err != nil {
		r.fail(ReasonReplayFailed, err)
		return
	}
	r.verdict.Replayed = res.value
	r.verdict.BootEvents = res.bootEvents
	r.verdict.RuntimeEvents = res.runtimeEvents
	r.verdict.RuntimeReplayed = res.runtimeReplayed

	r.transition(FetchingLiveValue)
	live, err := r.v.fetchLive(ctx, idx)
	if err != nil {
		r.fail(ReasonMeasurementUnavailable, fmt.Errorf("%w: %w", ErrMeasurementUnavailable, err))
		return
	}
	r.verdict.Live = live

	r.transition(Comparing)
	if res.value.Equal(live) {
		r.transition(Verified)
		r.log.Info("register verified")
		return
	}
	r.transition(Mismatch)
	r.log.WithFields(logrus.Fields{
		"replayed": res.value.Hex(),
		"live":     live.Hex(),
	}).Warn("replayed register value does not match live value")
}

// Replay fetches the logs and returns the replayed value of every register
// in idxs without consulting the measurement source. The logs are fetched
// once for all registers. Errors wrap ErrSourceUnavailable or ErrReplay.
func (v *Verifier) Replay(ctx context.Context, idxs []int) (map[int]register.Value, error) {
	runtimeNeeded := false
	for _, idx := range idxs {
		runtimeNeeded = runtimeNeeded || v.runtimeApplies(idx)
	}
	entries, lines, err := v.fetchLogs(ctx, runtimeNeeded)
	if err != nil {
		return nil, err
	}
	groups := replay.GroupByRegister(entries)
	values := make(map[int]register.Value, len(idxs))
	for _, idx := range idxs {
		res, err := v.replay(idx, groups[idx], lines)
		if err != nil {
			return nil, err
		}
		values[idx] = res.value
	}
	return values, nil
}

func (v *Verifier) runtimeApplies(idx int) bool {
	return idx == v.opts.RuntimeRegister && v.opts.RuntimePolicyActive
}

func (v *Verifier) fetchCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.opts.FetchTimeout > 0 {
		return context.WithTimeout(ctx, v.opts.FetchTimeout)
	}
	return context.WithCancel(ctx)
}

// fetchLogs returns the boot log and, when withRuntime is set, the runtime
// log. Errors wrap ErrSourceUnavailable.
func (v *Verifier) fetchLogs(ctx context.Context, withRuntime bool) ([]tcg.Entry, []runtimelog.Line, error) {
	entries, err := v.fetchBootLog(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: boot event log: %w", ErrSourceUnavailable, err)
	}
	if !withRuntime {
		return entries, nil, nil
	}
	lines, err := v.fetchRuntimeLog(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: runtime event log: %w", ErrSourceUnavailable, err)
	}
	return entries, lines, nil
}

type replayResult struct {
	value           register.Value
	bootEvents      int
	runtimeEvents   int
	runtimeReplayed bool
}

// replay folds the boot entries of register idx, then the runtime lines when
// the runtime policy applies to idx. Errors wrap ErrReplay.
func (v *Verifier) replay(idx int, entries []tcg.Entry, lines []runtimelog.Line) (replayResult, error) {
	start, err := register.Zero(v.opts.Alg)
	if err != nil {
		return replayResult{}, fmt.Errorf("%w: %w", ErrReplay, err)
	}
	if v.opts.StartupLocality && idx == 0 {
		if locality, ok := replay.StartupLocality(entries); ok {
			if start, err = replay.LocalityStart(v.opts.Alg, locality); err != nil {
				return replayResult{}, fmt.Errorf("%w: %w", ErrReplay, err)
			}
		}
	}
	value, err := replay.BootFrom(start, entries)
	if err != nil {
		return replayResult{}, fmt.Errorf("%w: %w", ErrReplay, err)
	}
	res := replayResult{value: value, bootEvents: len(entries)}
	if v.runtimeApplies(idx) {
		if res.value, err = replay.Runtime(value, idx, lines); err != nil {
			return replayResult{}, fmt.Errorf("%w: %w", ErrReplay, err)
		}
		res.runtimeEvents = len(lines)
		res.runtimeReplayed = true
	}
	return res, nil
}

func (v *Verifier) fetchBootLog(ctx context.Context) ([]tcg.Entry, error) {
	ctx, cancel := v.fetchCtx(ctx)
	defer cancel()
	return v.boot.BootEventLog(ctx)
}

func (v *Verifier) fetchRuntimeLog(ctx context.Context) ([]runtimelog.Line, error) {
	if v.runtime == nil {
		return nil, errors.New("no runtime log source configured")
	}
	ctx, cancel := v.fetchCtx(ctx)
	defer cancel()
	return v.runtime.RuntimeEventLog(ctx)
}

func (v *Verifier) fetchLive(ctx context.Context, idx int) (register.Value, error) {
	if v.live == nil {
		return register.Value{}, errors.New("no measurement source configured")
	}
	ctx, cancel := v.fetchCtx(ctx)
	defer cancel()
	live, err := v.live.Measurement(ctx, idx, v.opts.Alg)
	if err != nil {
		return register.Value{}, err
	}
	if live.Alg() != v.opts.Alg {
		return register.Value{}, fmt.Errorf("source returned a %v value for a %v register", live.Alg(), v.opts.Alg)
	}
	return live, nil
}
