package address

import (
	"fmt"
	"strings"
)

// bech32Charset maps 5-bit values to their bech32 characters.
const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// Checksum constants distinguishing the two segwit encodings. Witness v0
// addresses use the original bech32 constant, witness v1 uses bech32m.
const (
	bech32Checksum  uint32 = 1
	bech32mChecksum uint32 = 0x2bc830a3
)

// bech32Values maps ASCII bytes to their 5-bit value, or -1 for bytes
// outside the charset.
var bech32Values [256]int8

func init() {
	for i := range bech32Values {
		bech32Values[i] = -1
	}
	for i := 0; i < len(bech32Charset); i++ {
		bech32Values[bech32Charset[i]] = int8(i)
	}
}

// bech32Polymod implements the BIP 173 checksum polynomial over the
// expanded human readable part and data values.
func bech32Polymod(values []byte) uint32 {
	generator := [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

	checksum := uint32(1)
	for _, value := range values {
		top := checksum >> 25
		checksum = (checksum&0x1ffffff)<<5 ^ uint32(value)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				checksum ^= generator[i]
			}
		}
	}
	return checksum
}

// bech32HRPExpand expands the human readable part for checksum computation
// as defined by BIP 173, high bits first, then a zero, then low bits.
func bech32HRPExpand(hrp string) []byte {
	expanded := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		expanded = append(expanded, hrp[i]>>5)
	}
	expanded = append(expanded, 0)
	for i := 0; i < len(hrp); i++ {
		expanded = append(expanded, hrp[i]&31)
	}
	return expanded
}

// bech32Decode splits an encoded string into its human readable part and
// 5-bit data values and verifies the checksum against the given constant.
// The returned data excludes the six checksum values.
func bech32Decode(encoded string, checksumConst uint32) (string, []byte, error) {
	if len(encoded) < 8 || len(encoded) > 90 {
		return "", nil, decodeError(ReasonUnsupportedFormat,
			fmt.Sprintf("bech32 string length %d out of range", len(encoded)))
	}

	hasLower, hasUpper := false, false
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c < 33 || c > 126 {
			return "", nil, decodeError(ReasonInvalidCharacter,
				fmt.Sprintf("bech32 character 0x%02x at position %d out of range", c, i))
		}
		if c >= 'a' && c <= 'z' {
			hasLower = true
		}
		if c >= 'A' && c <= 'Z' {
			hasUpper = true
		}
	}
	if hasLower && hasUpper {
		return "", nil, decodeError(ReasonInvalidCharacter, "mixed case in bech32 string")
	}
	lowered := strings.ToLower(encoded)

	separator := strings.LastIndexByte(lowered, '1')
	if separator < 1 || separator+7 > len(lowered) {
		return "", nil, decodeError(ReasonUnsupportedFormat, "missing bech32 separator")
	}

	hrp := lowered[:separator]
	data := make([]byte, 0, len(lowered)-separator-1)
	for i := separator + 1; i < len(lowered); i++ {
		value := bech32Values[lowered[i]]
		if value < 0 {
			return "", nil, decodeError(ReasonInvalidCharacter,
				fmt.Sprintf("invalid bech32 character %q at position %d", lowered[i], i))
		}
		data = append(data, byte(value))
	}

	if bech32Polymod(append(bech32HRPExpand(hrp), data...)) != checksumConst {
		return "", nil, decodeError(ReasonChecksumMismatch, "bech32 checksum mismatch")
	}

	return hrp, data[:len(data)-6], nil
}

// regroupBits repacks values from fromBits-wide groups into toBits-wide
// groups. Incomplete trailing groups and nonzero padding are rejected, as
// witness program decoding requires.
func regroupBits(data []byte, fromBits, toBits uint) ([]byte, error) {
	var accumulator, bits uint
	maxValue := uint(1)<<toBits - 1

	out := make([]byte, 0, len(data)*int(fromBits)/int(toBits))
	for _, value := range data {
		if uint(value)>>fromBits != 0 {
			return nil, decodeError(ReasonInvalidCharacter,
				fmt.Sprintf("bech32 group value %d exceeds %d bits", value, fromBits))
		}
		accumulator = accumulator<<fromBits | uint(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(accumulator>>bits&maxValue))
		}
	}

	if bits >= fromBits || accumulator<<(toBits-bits)&maxValue != 0 {
		return nil, decodeError(ReasonInvalidProgramLength, "invalid witness program padding")
	}
	return out, nil
}
