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
	"github.com/google/go-ccverify/report"
	"github.com/google/go-ccverify/verify"
	"github.com/spf13/cobra"
)

func newReplayCommand(g *globals) *cobra.Command {
	var bundlePath string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Print the RTMR values recomputed from the event logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev, err := g.openEvidence(bundlePath, false)
			if err != nil {
				return err
			}
			opts, err := g.cfg.VerifyOptions(ev.policy, g.log)
			if err != nil {
				return err
			}
			v, err := verify.New(ev.boot, ev.runtime, nil, opts)
			if err != nil {
				return err
			}
			values, err := v.Replay(cmd.Context(), g.cfg.Registers)
			if err != nil {
				return err
			}
			return report.Values(cmd.OutOrStdout(), opts.RegisterName, values)
		},
	}
	cmd.Flags().StringVarP(&bundlePath, "bundle", "b", "", "Replay a captured evidence bundle instead of the local guest")
	return cmd
}
