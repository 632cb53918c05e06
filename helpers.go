// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

import (
	"fmt"
	"math"
)

func toFourCC(s string) FourCC {
	var f FourCC
	copy(f[:], s)
	return f
}

// printableFourCC returns b as a string if all bytes are printable ASCII,
// else as a hex literal.
func printableFourCC(b []byte) string {
	for _, c := range b {
		if c < 32 || c > 126 {
			return fmt.Sprintf("0x%x", b)
		}
	}
	return string(b)
}

func toString(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case []byte:
		return string(trimBytesNulls(vv))
	default:
		return fmt.Sprintf("%v", vv)
	}
}

func trimBytesNulls(b []byte) []byte {
	var lo, hi int
	for lo = 0; lo < len(b) && b[lo] == 0; lo++ {
	}
	for hi = len(b) - 1; hi >= 0 && b[hi] == 0; hi-- {
	}
	if lo > hi {
		return nil
	}
	return b[lo : hi+1]
}

// scaledRatio returns num/den * 10^exp, or NaN if den is zero.
func scaledRatio(num, den uint16, exp int8) float64 {
	if den == 0 {
		return math.NaN()
	}
	return float64(num) / float64(den) * math.Pow10(int(exp))
}

// ceilDiv returns ceil(a/b) for b > 0.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
