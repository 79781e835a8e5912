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

package tdxquote

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-ccverify/register"
	"github.com/google/go-tdx-guest/proto/tdx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func quote(rtmrs ...[]byte) *tdx.QuoteV4 {
	return &tdx.QuoteV4{TdQuoteBody: &tdx.TDQuoteBody{Rtmrs: rtmrs}}
}

func rtmrs() [][]byte {
	out := make([][]byte, register.RTMRCount)
	for i := range out {
		out[i] = bytes.Repeat([]byte{byte(0xa0 + i)}, 48)
	}
	return out
}

func TestFromQuote(t *testing.T) {
	src, err := FromQuote(quote(rtmrs()...))
	require.NoError(t, err)

	for i, want := range rtmrs() {
		got, err := src.Measurement(context.Background(), i, register.HashSHA384)
		require.NoError(t, err)
		assert.Equal(t, want, got.Bytes(), "RTMR[%d]", i)
	}
	_, err = src.Measurement(context.Background(), 4, register.HashSHA384)
	assert.Error(t, err)
	_, err = src.Measurement(context.Background(), 0, register.HashSHA256)
	assert.ErrorIs(t, err, register.ErrUnsupportedAlg)
}

func TestMeasurementEmptyBank(t *testing.T) {
	_, err := (&Source{}).Measurement(context.Background(), 0, register.HashSHA384)
	assert.Error(t, err)
	_, err = (&Source{}).Measurement(context.Background(), 0, register.HashSHA1)
	assert.ErrorIs(t, err, register.ErrUnsupportedAlg)
}

func TestFromQuoteInvalid(t *testing.T) {
	_, err := FromQuote(&tdx.QuoteV4{})
	assert.Error(t, err)

	_, err = FromQuote(quote(rtmrs()[:3]...))
	assert.Error(t, err)

	short := rtmrs()
	short[1] = short[1][:32]
	_, err = FromQuote(quote(short...))
	assert.ErrorIs(t, err, register.ErrDigestWidth)
}

func TestLoadProtoQuote(t *testing.T) {
	raw, err := proto.Marshal(quote(rtmrs()...))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "quote.pb")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	src, err := Load(path)
	require.NoError(t, err)
	require.Len(t, src.Bank().RTMRs, register.RTMRCount)
	assert.Equal(t, 2, src.Bank().RTMRs[2].Idx())
}

func TestLoadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quote.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xff, 0xff}, 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
