// Package address provides Bitcoin mainnet address decoding for Electrum
// balance queries. It converts the supported address families into the
// output scripts they encumber and derives the Electrum scripthash used
// as the key for balance and history lookups.
package address

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"

	"github.com/bardlex/gobt/pkg/errors"
)

// Type identifies a Bitcoin address family.
type Type string

// Address families recognized by the codec.
const (
	TypeP2PKH   Type = "P2PKH"
	TypeP2SH    Type = "P2SH"
	TypeP2WPKH  Type = "P2WPKH"
	TypeP2WSH   Type = "P2WSH"
	TypeP2TR    Type = "P2TR"
	TypeUnknown Type = "Unknown"
)

// String returns the family name as used in API responses and logs.
func (t Type) String() string {
	return string(t)
}

// Decode failure reasons, recorded on errors under the "reason" context key.
const (
	ReasonInvalidCharacter      = "invalid_character"
	ReasonChecksumMismatch      = "checksum_mismatch"
	ReasonUnsupportedVersion    = "unsupported_version"
	ReasonInvalidProgramLength  = "invalid_program_length"
	ReasonInvalidWitnessVersion = "invalid_witness_version"
	ReasonUnsupportedFormat     = "unsupported_format"
)

const (
	// mainnetHRP is the human readable part of mainnet segwit addresses.
	mainnetHRP = "bc"

	// Base58check version bytes for the legacy address families.
	versionP2PKH = 0x00
	versionP2SH  = 0x05

	// hash160Size is the payload length of legacy addresses, the
	// RIPEMD-160 digest size.
	hash160Size = 20

	// Witness program lengths accepted per witness version.
	witnessV0KeyHashSize    = 20
	witnessV0ScriptHashSize = 32
	witnessV1TaprootSize    = 32

	// Encoded lengths used for prefix classification. A 20-byte witness
	// program encodes to 42 characters and a 32-byte program to 62.
	segwitKeyHashAddrLen    = 42
	segwitScriptHashAddrLen = 62
)

// ScriptHash is an Electrum scripthash, the SHA-256 digest of an output
// script stored in reverse byte order.
type ScriptHash [sha256.Size]byte

// String returns the scripthash as lowercase hex, the form Electrum servers
// expect in request parameters.
func (h ScriptHash) String() string {
	return hex.EncodeToString(h[:])
}

// FromScript derives the Electrum scripthash for an output script.
// Electrum indexes scripts by SHA-256 in reverse byte order, matching the
// display convention for transaction and block hashes.
func FromScript(script []byte) ScriptHash {
	digest := sha256.Sum256(script)

	var scripthash ScriptHash
	for i := range digest {
		scripthash[sha256.Size-1-i] = digest[i]
	}
	return scripthash
}

// Decode parses a mainnet Bitcoin address and derives the Electrum
// scripthash of the output script it encumbers. Supported families are
// P2PKH and P2SH in base58check, P2WPKH and P2WSH in bech32, and P2TR in
// bech32m.
//
// Parameters:
//   - addr: The address string as received from a caller
//
// Returns:
//   - ScriptHash: The Electrum scripthash of the address's output script
//   - Type: The detected address family
//   - error: An invalid_address ServiceError describing the decode failure
func Decode(addr string) (ScriptHash, Type, error) {
	script, addrType, err := outputScript(addr)
	if err != nil {
		return ScriptHash{}, TypeUnknown, err
	}
	return FromScript(script), addrType, nil
}

// GetType classifies an address by prefix and length without decoding it.
// The result matches what Decode reports whenever Decode succeeds, which
// makes it safe for labeling responses for addresses that failed to decode.
func GetType(addr string) Type {
	if addr == "" {
		return TypeUnknown
	}

	switch addr[0] {
	case '1':
		return TypeP2PKH
	case '3':
		return TypeP2SH
	}

	lowered := strings.ToLower(addr)
	switch {
	case strings.HasPrefix(lowered, "bc1q") && len(addr) == segwitKeyHashAddrLen:
		return TypeP2WPKH
	case strings.HasPrefix(lowered, "bc1q") && len(addr) == segwitScriptHashAddrLen:
		return TypeP2WSH
	case strings.HasPrefix(lowered, "bc1p") && len(addr) == segwitScriptHashAddrLen:
		return TypeP2TR
	}
	return TypeUnknown
}

// Reason extracts the decode failure reason from an error produced by this
// package. It returns an empty string for errors that carry none.
func Reason(err error) string {
	if reason, ok := errors.GetContext(err)["reason"].(string); ok {
		return reason
	}
	return ""
}

// outputScript dispatches on the address prefix and assembles the output
// script the address encumbers.
func outputScript(addr string) ([]byte, Type, error) {
	if addr == "" {
		return nil, TypeUnknown, decodeError(ReasonUnsupportedFormat, "empty address")
	}

	if addr[0] == '1' || addr[0] == '3' {
		return legacyOutputScript(addr)
	}

	lowered := strings.ToLower(addr)
	switch {
	case strings.HasPrefix(lowered, "bc1q"):
		return witnessV0OutputScript(addr)
	case strings.HasPrefix(lowered, "bc1p"):
		return witnessV1OutputScript(addr)
	}
	return nil, TypeUnknown, decodeError(ReasonUnsupportedFormat,
		fmt.Sprintf("unrecognized address prefix in %q", clip(addr)))
}

// legacyOutputScript decodes a base58check address and assembles the
// matching P2PKH or P2SH script.
func legacyOutputScript(addr string) ([]byte, Type, error) {
	payload, err := base58CheckDecode(addr)
	if err != nil {
		return nil, TypeUnknown, err
	}

	version, hash := payload[0], payload[1:]
	if len(hash) != hash160Size {
		return nil, TypeUnknown, decodeError(ReasonUnsupportedFormat,
			fmt.Sprintf("legacy address payload is %d bytes, want %d", len(hash), hash160Size))
	}

	switch version {
	case versionP2PKH:
		script, err := payToPubKeyHashScript(hash)
		return script, TypeP2PKH, err
	case versionP2SH:
		script, err := payToScriptHashScript(hash)
		return script, TypeP2SH, err
	default:
		return nil, TypeUnknown, decodeError(ReasonUnsupportedVersion,
			fmt.Sprintf("unsupported base58 version byte 0x%02x", version))
	}
}

// witnessV0OutputScript decodes a bech32 address and assembles the witness
// v0 script for its 20-byte key hash or 32-byte script hash program.
func witnessV0OutputScript(addr string) ([]byte, Type, error) {
	program, err := decodeSegwit(addr, bech32Checksum, 0)
	if err != nil {
		return nil, TypeUnknown, err
	}

	switch len(program) {
	case witnessV0KeyHashSize:
		script, err := witnessOutputScript(0, program)
		return script, TypeP2WPKH, err
	case witnessV0ScriptHashSize:
		script, err := witnessOutputScript(0, program)
		return script, TypeP2WSH, err
	default:
		return nil, TypeUnknown, decodeError(ReasonInvalidProgramLength,
			fmt.Sprintf("witness v0 program is %d bytes, want %d or %d",
				len(program), witnessV0KeyHashSize, witnessV0ScriptHashSize))
	}
}

// witnessV1OutputScript decodes a bech32m address and assembles the taproot
// script for its 32-byte program.
func witnessV1OutputScript(addr string) ([]byte, Type, error) {
	program, err := decodeSegwit(addr, bech32mChecksum, 1)
	if err != nil {
		return nil, TypeUnknown, err
	}

	if len(program) != witnessV1TaprootSize {
		return nil, TypeUnknown, decodeError(ReasonInvalidProgramLength,
			fmt.Sprintf("witness v1 program is %d bytes, want %d", len(program), witnessV1TaprootSize))
	}

	script, err := witnessOutputScript(1, program)
	return script, TypeP2TR, err
}

// decodeSegwit decodes a segwit address, checks it belongs to mainnet and
// carries the expected witness version, and unpacks the witness program
// from its 5-bit groups.
func decodeSegwit(addr string, checksumConst uint32, wantVersion byte) ([]byte, error) {
	hrp, data, err := bech32Decode(addr, checksumConst)
	if err != nil {
		return nil, err
	}
	if hrp != mainnetHRP {
		return nil, decodeError(ReasonUnsupportedFormat,
			fmt.Sprintf("human readable part %q is not mainnet", hrp))
	}
	if len(data) == 0 {
		return nil, decodeError(ReasonUnsupportedFormat, "segwit address carries no witness version")
	}

	// The prefix dispatch pins the first data character, so a mismatch
	// here means the caller routed the address to the wrong decoder.
	if data[0] != wantVersion {
		return nil, decodeError(ReasonInvalidWitnessVersion,
			fmt.Sprintf("witness version %d, want %d", data[0], wantVersion))
	}

	return regroupBits(data[1:], 5, 8)
}

// payToPubKeyHashScript assembles OP_DUP OP_HASH160 <20B> OP_EQUALVERIFY
// OP_CHECKSIG for a public key hash.
func payToPubKeyHashScript(keyHash []byte) ([]byte, error) {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(keyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "script_assembly",
			"failed to assemble P2PKH script")
	}
	return script, nil
}

// payToScriptHashScript assembles OP_HASH160 <20B> OP_EQUAL for a script
// hash.
func payToScriptHashScript(scriptHash []byte) ([]byte, error) {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(scriptHash).
		AddOp(txscript.OP_EQUAL).
		Script()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "script_assembly",
			"failed to assemble P2SH script")
	}
	return script, nil
}

// witnessOutputScript assembles <version op> <program> for a segwit output.
func witnessOutputScript(version byte, program []byte) ([]byte, error) {
	versionOp := byte(txscript.OP_0)
	if version > 0 {
		versionOp = txscript.OP_1 + version - 1
	}

	script, err := txscript.NewScriptBuilder().
		AddOp(versionOp).
		AddData(program).
		Script()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "script_assembly",
			"failed to assemble witness script")
	}
	return script, nil
}

// decodeError builds the invalid_address error shared by every decode
// failure path, tagging it with a machine readable reason.
func decodeError(reason, message string) *errors.ServiceError {
	return errors.New(errors.ErrorTypeInvalidAddress, "decode", message).
		WithContext("reason", reason)
}

// clip shortens untrusted input before it is embedded in error messages.
func clip(s string) string {
	const maxLen = 16
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
