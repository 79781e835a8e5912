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

	"github.com/google/go-ccverify/source/bundle"
	"github.com/google/go-ccverify/source/tdxquote"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newCaptureCommand(g *globals) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Snapshot the guest event logs and a TD quote into an evidence bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.cfg.Paths.Quote == "" {
				return errors.New("no TD quote configured: pass --quote")
			}
			q, err := tdxquote.Load(g.cfg.Paths.Quote)
			if err != nil {
				return err
			}
			src := g.guest()
			policy, err := g.cfg.ResolvePolicy(src.RuntimePolicyActive)
			if err != nil {
				return fmt.Errorf("resolving runtime measurement policy: %w", err)
			}
			b, err := bundle.Capture(cmd.Context(), src, policy, q.Bank())
			if err != nil {
				return err
			}
			if err := b.Write(out); err != nil {
				return err
			}
			g.log.WithFields(logrus.Fields{
				"bundle":         b.ID.String(),
				"path":           out,
				"runtime_policy": policy,
			}).Info("evidence captured")
			_, err = fmt.Fprintln(cmd.OutOrStdout(), b.ID)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "O", "evidence.cbor", "Bundle output path")
	return cmd
}
