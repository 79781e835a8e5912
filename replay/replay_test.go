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

package replay

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/google/go-ccverify/register"
	"github.com/google/go-ccverify/runtimelog"
	"github.com/google/go-ccverify/tcg"
	"github.com/google/go-cmp/cmp"
)

func sha384Digest(b byte) tcg.Digest {
	return tcg.Digest{Alg: register.HashSHA384, Data: bytes.Repeat([]byte{b}, sha512.Size384)}
}

func sha256Digest(b byte) tcg.Digest {
	return tcg.Digest{Alg: register.HashSHA256, Data: bytes.Repeat([]byte{b}, sha256.Size)}
}

func entry(idx int, digests ...tcg.Digest) tcg.Entry {
	return tcg.StructuredEntry{Index: idx, Type: tcg.EFIAction, DigestList: digests}
}

// extendByHand computes hash(a || b) with the standard library directly.
func extendByHand(a, b []byte) []byte {
	sum := sha512.Sum384(append(append([]byte{}, a...), b...))
	return sum[:]
}

func TestBootEmpty(t *testing.T) {
	for _, alg := range []register.HashAlg{register.HashSHA256, register.HashSHA384} {
		got, err := Boot(alg, nil)
		if err != nil {
			t.Fatalf("Boot(%v, nil) = %v", alg, err)
		}
		zero, _ := register.Zero(alg)
		if !got.Equal(zero) {
			t.Errorf("Boot(%v, nil) = %v, want zero", alg, got)
		}
	}
}

func TestBootTwoEntries(t *testing.T) {
	d1, d2 := sha384Digest(0x01), sha384Digest(0x02)
	got, err := Boot(register.HashSHA384, []tcg.Entry{entry(0, d1), entry(0, d2)})
	if err != nil {
		t.Fatal(err)
	}
	want := extendByHand(extendByHand(make([]byte, 48), d1.Data), d2.Data)
	if diff := cmp.Diff(want, got.Bytes()); diff != "" {
		t.Errorf("Boot() mismatch (-want +got):\n%s", diff)
	}
}

func TestBootContinuation(t *testing.T) {
	a, b, c := entry(1, sha384Digest(0xa)), entry(1, sha384Digest(0xb)), entry(1, sha384Digest(0xc))
	all, err := Boot(register.HashSHA384, []tcg.Entry{a, b, c})
	if err != nil {
		t.Fatal(err)
	}
	head, err := Boot(register.HashSHA384, []tcg.Entry{a})
	if err != nil {
		t.Fatal(err)
	}
	rest, err := BootFrom(head, []tcg.Entry{b, c})
	if err != nil {
		t.Fatal(err)
	}
	if !all.Equal(rest) {
		t.Errorf("replaying [a b c] = %v, replaying [a] then [b c] = %v", all, rest)
	}
}

func TestBootDeterministic(t *testing.T) {
	entries := []tcg.Entry{entry(2, sha384Digest(1)), entry(2, sha384Digest(2)), entry(2, sha384Digest(3))}
	first, err := Boot(register.HashSHA384, entries)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Boot(register.HashSHA384, entries)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(second) {
		t.Errorf("replays differ: %v and %v", first, second)
	}
	reordered := []tcg.Entry{entries[1], entries[0], entries[2]}
	third, err := Boot(register.HashSHA384, reordered)
	if err != nil {
		t.Fatal(err)
	}
	if first.Equal(third) {
		t.Error("replay ignored log order")
	}
}

func TestBootSelectsAlgorithm(t *testing.T) {
	multi := entry(0, sha256Digest(0x11), sha384Digest(0x22))
	only256 := entry(0, sha256Digest(0x33))
	got, err := Boot(register.HashSHA384, []tcg.Entry{multi, only256})
	if err != nil {
		t.Fatal(err)
	}
	want := extendByHand(make([]byte, 48), sha384Digest(0x22).Data)
	if diff := cmp.Diff(want, got.Bytes()); diff != "" {
		t.Errorf("Boot(SHA384) mismatch (-want +got):\n%s", diff)
	}

	got256, err := Boot(register.HashSHA256, []tcg.Entry{multi, only256})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := register.Zero(register.HashSHA256)
	v, _ = v.Extend(sha256Digest(0x11).Data)
	v, _ = v.Extend(sha256Digest(0x33).Data)
	if !got256.Equal(v) {
		t.Errorf("Boot(SHA256) = %v, want %v", got256, v)
	}
}

func TestBootSkipsNoAction(t *testing.T) {
	noAction := tcg.StructuredEntry{Index: 0, Type: tcg.NoAction, DigestList: []tcg.Digest{sha384Digest(0x99)}}
	got, err := Boot(register.HashSHA384, []tcg.Entry{noAction, entry(0, sha384Digest(1))})
	if err != nil {
		t.Fatal(err)
	}
	want, _ := Boot(register.HashSHA384, []tcg.Entry{entry(0, sha384Digest(1))})
	if !got.Equal(want) {
		t.Errorf("Boot() with EV_NO_ACTION = %v, want %v", got, want)
	}
}

func TestStartupLocality(t *testing.T) {
	locality := func(data string) tcg.Entry {
		return tcg.StructuredEntry{Index: 0, Type: tcg.NoAction, DigestList: []tcg.Digest{sha256Digest(0)}, Data: []byte(data)}
	}
	for _, tc := range []struct {
		name    string
		entries []tcg.Entry
		want    byte
		wantOK  bool
	}{
		{"locality 3", []tcg.Entry{locality("StartupLocality\x00\x03"), entry(0, sha256Digest(1))}, 3, true},
		{"locality 0", []tcg.Entry{locality("StartupLocality\x00\x00")}, 0, true},
		{"none", []tcg.Entry{entry(0, sha256Digest(1))}, 0, false},
		{"too long", []tcg.Entry{locality("StartupLocality\x00\x03\x00")}, 0, false},
		{"other signature", []tcg.Entry{locality("StartupLocalitx\x00\x03")}, 0, false},
		{"not no action", []tcg.Entry{tcg.StructuredEntry{Index: 0, Type: tcg.EFIAction, DigestList: []tcg.Digest{sha256Digest(0)}, Data: []byte("StartupLocality\x00\x03")}}, 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := StartupLocality(tc.entries)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("StartupLocality() = %d, %v, want %d, %v", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestLocalityStart(t *testing.T) {
	start, err := LocalityStart(register.HashSHA256, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, sha256.Size)
	want[sha256.Size-1] = 3
	if diff := cmp.Diff(want, start.Bytes()); diff != "" {
		t.Errorf("LocalityStart() mismatch (-want +got):\n%s", diff)
	}

	got, err := BootFrom(start, []tcg.Entry{entry(0, sha256Digest(1))})
	if err != nil {
		t.Fatal(err)
	}
	h := sha256.Sum256(append(want, bytes.Repeat([]byte{1}, sha256.Size)...))
	if diff := cmp.Diff(h[:], got.Bytes()); diff != "" {
		t.Errorf("BootFrom() from locality 3 mismatch (-want +got):\n%s", diff)
	}

	if _, err := LocalityStart(register.HashAlg(0x7777), 3); !errors.Is(err, register.ErrUnsupportedAlg) {
		t.Errorf("LocalityStart(invalid) = %v, want ErrUnsupportedAlg", err)
	}
}

func TestBootLegacyEntry(t *testing.T) {
	d := tcg.Digest{Alg: register.HashSHA1, Data: bytes.Repeat([]byte{7}, 20)}
	got, err := Boot(register.HashSHA1, []tcg.Entry{tcg.LegacyEntry{Index: 4, Type: tcg.Separator, Digest: d}})
	if err != nil {
		t.Fatal(err)
	}
	zero, _ := register.Zero(register.HashSHA1)
	want, _ := zero.Extend(d.Data)
	if !got.Equal(want) {
		t.Errorf("Boot(legacy) = %v, want %v", got, want)
	}
}

func TestBootErrors(t *testing.T) {
	tests := []struct {
		name    string
		entries []tcg.Entry
		wantErr error
	}{
		{
			name:    "No digests",
			entries: []tcg.Entry{entry(0, sha384Digest(1)), entry(0)},
			wantErr: tcg.ErrMissingDigest,
		},
		{
			name:    "Wrong width",
			entries: []tcg.Entry{entry(0, tcg.Digest{Alg: register.HashSHA384, Data: make([]byte, 32)})},
			wantErr: register.ErrDigestWidth,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Boot(register.HashSHA384, tt.entries)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Boot() error = %v, want %v", err, tt.wantErr)
			}
			var replayErr *Error
			if !errors.As(err, &replayErr) {
				t.Errorf("Boot() error = %T, want *Error", err)
			}
		})
	}

	if _, err := Boot(register.HashSHA384, []tcg.Entry{entry(0, sha384Digest(1)), entry(1, sha384Digest(1))}); err == nil {
		t.Error("Boot() accepted entries of two registers")
	}
	if _, err := Boot(register.HashAlg(0x7777), nil); !errors.Is(err, register.ErrUnsupportedAlg) {
		t.Errorf("Boot(unknown alg) error = %v, want ErrUnsupportedAlg", err)
	}
}

func TestGroupByRegister(t *testing.T) {
	e0a, e1a, e0b, e2a, e1b := entry(0, sha384Digest(1)), entry(1, sha384Digest(2)), entry(0, sha384Digest(3)), entry(2, sha384Digest(4)), entry(1, sha384Digest(5))
	groups := GroupByRegister([]tcg.Entry{e0a, e1a, e0b, e2a, e1b})
	want := map[int][]tcg.Entry{
		0: {e0a, e0b},
		1: {e1a, e1b},
		2: {e2a},
	}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Errorf("GroupByRegister() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]tcg.Entry{e1a, e1b}, ForRegister([]tcg.Entry{e0a, e1a, e0b, e2a, e1b}, 1)); diff != "" {
		t.Errorf("ForRegister(1) mismatch (-want +got):\n%s", diff)
	}
	if got := ForRegister([]tcg.Entry{e0a}, 3); len(got) != 0 {
		t.Errorf("ForRegister(3) = %v, want empty", got)
	}
}

func mustLine(t *testing.T, n int, text string) runtimelog.Line {
	t.Helper()
	l, err := runtimelog.NewLine(n, text)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestRuntimeSingleLine(t *testing.T) {
	base, err := Boot(register.HashSHA384, []tcg.Entry{entry(2, sha384Digest(0x42))})
	if err != nil {
		t.Fatal(err)
	}
	d := bytes.Repeat([]byte{0x5c}, 48)
	dHex := hex.EncodeToString(d)
	got, err := Runtime(base, 2, []runtimelog.Line{mustLine(t, 1, "10 template "+dHex+" /bin/sh")})
	if err != nil {
		t.Fatal(err)
	}

	// hash(R0_hex ++ D), decoding the concatenated hex string.
	concat, err := hex.DecodeString(base.Hex() + dHex)
	if err != nil {
		t.Fatal(err)
	}
	want := sha512.Sum384(concat)
	if diff := cmp.Diff(want[:], got.Bytes()); diff != "" {
		t.Errorf("Runtime() mismatch (-want +got):\n%s", diff)
	}
}

func TestRuntimeTwoLines(t *testing.T) {
	base, _ := register.Zero(register.HashSHA384)
	d1 := bytes.Repeat([]byte{0x01}, 48)
	d2 := bytes.Repeat([]byte{0x02}, 48)
	lines := []runtimelog.Line{
		mustLine(t, 1, "10 x "+hex.EncodeToString(d1)+" a"),
		mustLine(t, 2, "10 x "+hex.EncodeToString(d2)+" b"),
	}
	got, err := Runtime(base, 2, lines)
	if err != nil {
		t.Fatal(err)
	}
	want := extendByHand(extendByHand(base.Bytes(), d1), d2)
	if diff := cmp.Diff(want, got.Bytes()); diff != "" {
		t.Errorf("Runtime() mismatch (-want +got):\n%s", diff)
	}

	swapped, err := Runtime(base, 2, []runtimelog.Line{lines[1], lines[0]})
	if err != nil {
		t.Fatal(err)
	}
	if swapped.Equal(got) {
		t.Error("runtime replay ignored line order")
	}

	unchanged, err := Runtime(base, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !unchanged.Equal(base) {
		t.Errorf("Runtime(no lines) = %v, want %v", unchanged, base)
	}
}

func TestRuntimeErrors(t *testing.T) {
	base, _ := register.Zero(register.HashSHA384)
	if _, err := Runtime(base, 2, []runtimelog.Line{mustLine(t, 1, "10 x abcd y")}); !errors.Is(err, register.ErrDigestWidth) {
		t.Errorf("Runtime(short digest) error = %v, want ErrDigestWidth", err)
	}
	_, err := Runtime(base, 2, []runtimelog.Line{mustLine(t, 3, "10 x nothex y")})
	var lineErr *runtimelog.LineError
	if !errors.As(err, &lineErr) || lineErr.Line != 3 {
		t.Errorf("Runtime(bad hex) error = %v, want LineError on line 3", err)
	}
}
