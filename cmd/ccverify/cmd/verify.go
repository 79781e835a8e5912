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

package cmd

import (
	"errors"
	"fmt"

	"github.com/google/go-ccverify/report"
	"github.com/google/go-ccverify/source/bundle"
	"github.com/google/go-ccverify/source/tdxquote"
	"github.com/google/go-ccverify/verify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// evidence groups the sources a command reads from.
type evidence struct {
	boot    verify.BootLogSource
	runtime verify.RuntimeLogSource
	live    verify.MeasurementSource
	policy  bool
}

// openEvidence opens the bundle at bundlePath, or the local guest when it is
// empty. The quote is only loaded for the local guest when needLive is set.
func (g *globals) openEvidence(bundlePath string, needLive bool) (*evidence, error) {
	if bundlePath != "" {
		b, err := bundle.Read(bundlePath)
		if err != nil {
			return nil, err
		}
		policy, err := g.cfg.ResolvePolicy(b.PolicyActive)
		if err != nil {
			return nil, err
		}
		g.log.WithFields(logrus.Fields{
			"bundle":   b.ID.String(),
			"captured": b.CapturedAt,
		}).Debug("loaded evidence bundle")
		return &evidence{boot: b, runtime: b, live: b, policy: policy}, nil
	}

	src := g.guest()
	policy, err := g.cfg.ResolvePolicy(src.RuntimePolicyActive)
	if err != nil {
		return nil, fmt.Errorf("resolving runtime measurement policy: %w", err)
	}
	ev := &evidence{boot: src, runtime: src, policy: policy}
	if needLive {
		if g.cfg.Paths.Quote == "" {
			return nil, errors.New("no TD quote configured: pass --quote or --bundle")
		}
		q, err := tdxquote.Load(g.cfg.Paths.Quote)
		if err != nil {
			return nil, err
		}
		ev.live = q
	}
	return ev, nil
}

func newVerifyCommand(g *globals) *cobra.Command {
	var bundlePath string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay the event logs and compare the result with the live RTMRs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev, err := g.openEvidence(bundlePath, true)
			if err != nil {
				return err
			}
			opts, err := g.cfg.VerifyOptions(ev.policy, g.log)
			if err != nil {
				return err
			}
			v, err := verify.New(ev.boot, ev.runtime, ev.live, opts)
			if err != nil {
				return err
			}
			r := v.Verify(cmd.Context(), g.cfg.Registers)

			out := cmd.OutOrStdout()
			if err := report.Write(out, r, g.reportFormat(), g.colored(out)); err != nil {
				return err
			}
			if !r.OK() {
				return errNotVerified
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&bundlePath, "bundle", "b", "", "Verify a captured evidence bundle instead of the local guest")
	return cmd
}
