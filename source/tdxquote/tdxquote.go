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

// Package tdxquote serves live RTMR values taken from a TDX quote.
package tdxquote

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/go-ccverify/register"
	"github.com/google/go-tdx-guest/abi"
	"github.com/google/go-tdx-guest/proto/tdx"
	"google.golang.org/protobuf/proto"
)

// Source is a measurement source backed by the RTMRs of one quote.
type Source struct {
	bank register.RTMRBank
}

// FromQuote returns a Source for the RTMRs in the quote body.
func FromQuote(quote *tdx.QuoteV4) (*Source, error) {
	body := quote.GetTdQuoteBody()
	if body == nil {
		return nil, errors.New("quote has no TD quote body")
	}
	rtmrs := body.GetRtmrs()
	if len(rtmrs) != register.RTMRCount {
		return nil, fmt.Errorf("quote has %d RTMRs, want %d", len(rtmrs), register.RTMRCount)
	}
	bank := register.RTMRBank{RTMRs: make([]register.RTMR, 0, len(rtmrs))}
	for i, rtmr := range rtmrs {
		if len(rtmr) != register.HashSHA384.Size() {
			return nil, fmt.Errorf("RTMR[%d]: %w: got %d bytes", i, register.ErrDigestWidth, len(rtmr))
		}
		bank.RTMRs = append(bank.RTMRs, register.RTMR{Index: i, Digest: rtmr})
	}
	return &Source{bank: bank}, nil
}

// FromRawQuote decodes a quote in the TDX binary layout or, failing that, a
// serialized QuoteV4 message.
func FromRawQuote(raw []byte) (*Source, error) {
	parsed, abiErr := abi.QuoteToProto(raw)
	if abiErr == nil {
		quote, ok := parsed.(*tdx.QuoteV4)
		if !ok {
			return nil, fmt.Errorf("unsupported quote type %T", parsed)
		}
		return FromQuote(quote)
	}
	quote := &tdx.QuoteV4{}
	if err := proto.Unmarshal(raw, quote); err != nil {
		return nil, fmt.Errorf("decoding quote: %w", errors.Join(abiErr, err))
	}
	return FromQuote(quote)
}

// Load reads a quote file. See FromRawQuote.
func Load(path string) (*Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading quote: %w", err)
	}
	src, err := FromRawQuote(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// Bank returns the RTMR bank of the quote.
func (s *Source) Bank() register.RTMRBank {
	return s.bank
}

// Measurement returns RTMR[idx]. Quotes only carry SHA-384 registers.
func (s *Source) Measurement(ctx context.Context, idx int, alg register.HashAlg) (register.Value, error) {
	if err := ctx.Err(); err != nil {
		return register.Value{}, err
	}
	if alg != register.HashSHA384 {
		return register.Value{}, fmt.Errorf("%w: quote RTMRs are %v, not %v", register.ErrUnsupportedAlg, register.HashSHA384, alg)
	}
	return register.Lookup(s.bank, idx)
}
