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

package tpmeventlog

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-ccverify/internal/testutil"
	"github.com/google/go-ccverify/register"
	"github.com/google/go-ccverify/report"
	"github.com/google/go-ccverify/tcg"
	"github.com/google/go-ccverify/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pcrs = []int{0, 4, 7}

func events(algs ...register.HashAlg) []testutil.Event {
	digests := func(b byte) []tcg.Digest {
		var out []tcg.Digest
		for _, alg := range algs {
			out = append(out, testutil.Digest(alg, b))
		}
		return out
	}
	return []testutil.Event{
		{Index: 0, Type: tcg.SCRTMVersion, Digests: digests(0x01)},
		{Index: 7, Type: tcg.EFIVariableDriverConfig, Digests: digests(0x02)},
		{Index: 4, Type: tcg.EFIBootServicesApplication, Digests: digests(0x03)},
		{Index: 7, Type: tcg.Separator, Digests: digests(0x04)},
	}
}

func bank(t *testing.T, alg register.HashAlg, evs []testutil.Event) register.PCRBank {
	t.Helper()
	rot, err := register.NewFakeROT([]register.HashAlg{alg}, 24)
	require.NoError(t, err)
	for _, e := range evs {
		for _, d := range e.Digests {
			if d.Alg == alg {
				require.NoError(t, rot.Extend(alg, e.Index, d.Data))
			}
		}
	}
	b, err := rot.ReadMRs(alg, pcrs)
	require.NoError(t, err)
	return b
}

func TestVerifyPCRsSHA256(t *testing.T) {
	evs := events(register.HashSHA1, register.HashSHA256)
	raw := testutil.CryptoAgileLog([]register.HashAlg{register.HashSHA1, register.HashSHA256}, evs)

	report, err := VerifyPCRs(context.Background(), raw, bank(t, register.HashSHA256, evs), nil)
	require.NoError(t, err)
	assert.Equal(t, register.HashSHA256, report.Alg)
	assert.Equal(t, pcrs, report.Registers())
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Verdicts[7].BootEvents)
}

func TestVerifyPCRsLegacySHA1(t *testing.T) {
	evs := events(register.HashSHA1)
	report, err := VerifyPCRs(context.Background(), testutil.LegacyLog(evs), bank(t, register.HashSHA1, evs), nil)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestVerifyPCRsTampered(t *testing.T) {
	evs := events(register.HashSHA256)
	pcrBank := bank(t, register.HashSHA256, evs)
	// The log claims a different boot application than the one measured.
	evs[2].Digests = []tcg.Digest{testutil.Digest(register.HashSHA256, 0x66)}
	raw := testutil.CryptoAgileLog([]register.HashAlg{register.HashSHA256}, evs)

	report, err := VerifyPCRs(context.Background(), raw, pcrBank, nil)
	require.NoError(t, err)
	assert.Equal(t, verify.Verified, report.Verdicts[0].State)
	assert.Equal(t, verify.Mismatch, report.Verdicts[4].State)
	assert.Equal(t, verify.Verified, report.Verdicts[7].State)
}

func TestVerifyPCRsStartupLocality(t *testing.T) {
	alg := register.HashSHA256
	locality := testutil.Event{
		Index:   0,
		Type:    tcg.NoAction,
		Digests: []tcg.Digest{{Alg: alg, Data: make([]byte, alg.Size())}},
		Data:    []byte("StartupLocality\x00\x03"),
	}
	crtm := testutil.Event{Index: 0, Type: tcg.SCRTMVersion, Digests: []tcg.Digest{testutil.Digest(alg, 0x01)}}

	// A locality 3 platform starts PCR0 at 00..03 instead of all zeroes.
	rot, err := register.NewFakeROT([]register.HashAlg{alg}, 24)
	require.NoError(t, err)
	start := make([]byte, alg.Size())
	start[len(start)-1] = 3
	require.NoError(t, rot.Set(alg, 0, start))
	require.NoError(t, rot.Extend(alg, 0, crtm.Digests[0].Data))
	pcrBank, err := rot.ReadMRs(alg, []int{0})
	require.NoError(t, err)

	raw := testutil.CryptoAgileLog([]register.HashAlg{alg}, []testutil.Event{locality, crtm})
	r, err := VerifyPCRs(context.Background(), raw, pcrBank, nil)
	require.NoError(t, err)
	assert.Equal(t, verify.Verified, r.Verdicts[0].State, r.Verdicts[0].String())

	// Without the locality event the log replays from zero.
	raw = testutil.CryptoAgileLog([]register.HashAlg{alg}, []testutil.Event{crtm})
	r, err = VerifyPCRs(context.Background(), raw, pcrBank, nil)
	require.NoError(t, err)
	assert.Equal(t, verify.Mismatch, r.Verdicts[0].State)
}

func TestVerifyPCRsReportLabels(t *testing.T) {
	evs := events(register.HashSHA256)
	raw := testutil.CryptoAgileLog([]register.HashAlg{register.HashSHA256}, evs)
	r, err := VerifyPCRs(context.Background(), raw, bank(t, register.HashSHA256, evs), nil)
	require.NoError(t, err)
	assert.Equal(t, "PCR[7]", r.Label(7))
	assert.False(t, r.HasRuntimeRegister())

	var buf bytes.Buffer
	require.NoError(t, report.Text(&buf, r, false))
	assert.Contains(t, buf.String(), "no runtime register")
	assert.Contains(t, buf.String(), "PCR[4]")
	assert.NotContains(t, buf.String(), "RTMR")
}

func TestVerifyPCRsBadBank(t *testing.T) {
	_, err := VerifyPCRs(context.Background(), nil, register.PCRBank{}, nil)
	assert.ErrorIs(t, err, register.ErrUnsupportedAlg)
}

func TestFileSource(t *testing.T) {
	evs := events(register.HashSHA256)
	path := filepath.Join(t.TempDir(), "binary_bios_measurements")
	require.NoError(t, os.WriteFile(path, testutil.CryptoAgileLog([]register.HashAlg{register.HashSHA256}, evs), 0o600))

	entries, err := FileSource{Path: path}.BootEventLog(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, len(evs))
	assert.Equal(t, 7, entries[1].MRIndex())

	// Truncated logs report the entries parsed so far.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	partial, err := ParseEventLog(raw[:len(raw)-10])
	assert.Error(t, err)
	assert.Len(t, partial, len(evs)-1)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "absent")}.BootEventLog(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBankSource(t *testing.T) {
	evs := events(register.HashSHA256)
	src := BankSource{Bank: bank(t, register.HashSHA256, evs)}
	_, err := src.Measurement(context.Background(), 4, register.HashSHA384)
	assert.ErrorIs(t, err, register.ErrUnsupportedAlg)
	_, err = src.Measurement(context.Background(), 5, register.HashSHA256)
	assert.Error(t, err)
}
