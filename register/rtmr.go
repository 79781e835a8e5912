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

package register

/*
RTMR0 => PCR1,7
RTMR1 => PCR2-6
RTMR2 => PCR8-15, IMA runtime measurements
RTMR3 => N/A (for userspace)
*/

// RTMRCount is the number of TDX runtime measurement registers.
const RTMRCount = 4

// RTMRBank is a bank of RTMRs that all correspond to the SHA-384 algorithm.
type RTMRBank struct {
	RTMRs []RTMR
}

// HashAlg returns the algorithm of the RTMR bank.
func (b RTMRBank) HashAlg() (HashAlg, error) {
	return HashSHA384, nil
}

// MRs returns a slice of MR from the RTMR implementation.
func (b RTMRBank) MRs() []MR {
	mrs := make([]MR, len(b.RTMRs))
	for i, v := range b.RTMRs {
		mrs[i] = v
	}
	return mrs
}

// RTMR encapsulates the value of a TDX runtime measurement register at a point
// in time. The given RTMR must always have a SHA-384 digest.
type RTMR struct {
	// The RTMR Index, not the CC MR Index. e.g., for RTMR[1], put 1, not 2.
	Index  int
	Digest []byte
}

// Idx gives the RTMR index. Register indexes throughout this module are RTMR
// indexes; see CCMRIndex for the index used in Confidential Computing event
// logs.
func (r RTMR) Idx() int {
	return r.Index
}

// Dgst gives the RTMR digest.
func (r RTMR) Dgst() []byte {
	return r.Digest
}

// DgstAlg gives the RTMR digest algorithm.
func (r RTMR) DgstAlg() HashAlg {
	return HashSHA384
}

// CCMRIndex gives the CC Measurement Register index of the RTMR.
// Confusingly, MRTD uses CC Measurement Register Index 0, so RTMR0 uses 1.
// RTMR1 uses 2, and so on.
// https://cdrdv2-public.intel.com/726792/TDX%20Guest-Hypervisor%20Communication%20Interface_1.5_348552_004%20-%2020230317.pdf
func (r RTMR) CCMRIndex() int {
	return r.Index + 1
}

// RTMRIndexFromCCMR converts a CC Measurement Register index into an RTMR
// index. ok is false for MRTD and for indexes past the last RTMR.
func RTMRIndexFromCCMR(ccmr int) (idx int, ok bool) {
	if ccmr < 1 || ccmr > RTMRCount {
		return 0, false
	}
	return ccmr - 1, true
}
