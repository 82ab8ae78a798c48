package address

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// base58Alphabet is the Bitcoin base58 character set. The visually
// ambiguous characters 0, O, I and l are excluded.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// base58ChecksumSize is the length of the trailing double-SHA256 checksum.
const base58ChecksumSize = 4

// base58Values maps ASCII bytes to their base58 digit value, or -1 for
// bytes outside the alphabet.
var base58Values [256]int8

func init() {
	for i := range base58Values {
		base58Values[i] = -1
	}
	for i := 0; i < len(base58Alphabet); i++ {
		base58Values[base58Alphabet[i]] = int8(i)
	}
}

// base58Decode converts a base58 string into the bytes it encodes. Leading
// '1' characters map to leading zero bytes.
func base58Decode(encoded string) ([]byte, error) {
	value := new(big.Int)
	radix := big.NewInt(58)
	digit := new(big.Int)

	for i := 0; i < len(encoded); i++ {
		index := base58Values[encoded[i]]
		if index < 0 {
			return nil, decodeError(ReasonInvalidCharacter,
				fmt.Sprintf("invalid base58 character %q at position %d", encoded[i], i))
		}
		value.Mul(value, radix)
		value.Add(value, digit.SetInt64(int64(index)))
	}

	decoded := value.Bytes()

	// big.Int drops leading zero bytes, so restore one per leading '1'.
	leadingZeros := 0
	for leadingZeros < len(encoded) && encoded[leadingZeros] == '1' {
		leadingZeros++
	}

	out := make([]byte, leadingZeros+len(decoded))
	copy(out[leadingZeros:], decoded)
	return out, nil
}

// base58CheckDecode decodes a base58check string and verifies its trailing
// four byte double-SHA256 checksum. The returned payload keeps the version
// byte and strips the checksum.
func base58CheckDecode(encoded string) ([]byte, error) {
	decoded, err := base58Decode(encoded)
	if err != nil {
		return nil, err
	}
	if len(decoded) < base58ChecksumSize+1 {
		return nil, decodeError(ReasonUnsupportedFormat,
			fmt.Sprintf("base58 payload is %d bytes, too short for a checksum", len(decoded)))
	}

	payload := decoded[:len(decoded)-base58ChecksumSize]
	checksum := decoded[len(decoded)-base58ChecksumSize:]

	expected := chainhash.DoubleHashB(payload)[:base58ChecksumSize]
	if !bytes.Equal(checksum, expected) {
		return nil, decodeError(ReasonChecksumMismatch, "base58 checksum mismatch")
	}
	return payload, nil
}
