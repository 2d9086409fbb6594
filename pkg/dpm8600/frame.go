// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import "strconv"

// BuildReadFrame builds ":AArOO=0,". The terminator is appended on transmit.
func BuildReadFrame(address Address, opcode string) string {
	return string(FrameStart) + FormatAddress(address) + string(DirectionRead) + opcode + "=0" + string(FrameSeparator)
}

// BuildWriteFrame builds ":AAwOO=N,".
func BuildWriteFrame(address Address, opcode string, value uint16) string {
	return string(FrameStart) + FormatAddress(address) + string(DirectionWrite) + opcode +
		string(FrameAssign) + strconv.FormatUint(uint64(value), 10) + string(FrameSeparator)
}

// BuildCombinedWriteFrame builds ":AAw20=V,C,", which sets voltage and
// current in one command.
func BuildCombinedWriteFrame(address Address, voltage, current uint16) string {
	return BuildWriteFrame(address, OpcodeVoltageAndCurrent, voltage) +
		strconv.FormatUint(uint64(current), 10) + string(FrameSeparator)
}
