package identity

import (
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/ubinox-pi/anonet-sub000/anerr"
)

const mnemonicEntropyBits = 128 // 12-word mnemonic: 128 bits entropy + 4-bit checksum

// NewMnemonic generates a fresh 128-bit-entropy, 12-word mnemonic.
func NewMnemonic() (string, error) {
	entropy := make([]byte, mnemonicEntropyBits/8)
	if _, err := rand.Read(entropy); err != nil {
		return "", anerr.Crypto(anerr.KeyAgreement, "read entropy", err)
	}
	return mnemonicFromEntropy(entropy)
}

func mnemonicFromEntropy(entropy []byte) (string, error) {
	if len(entropy) != mnemonicEntropyBits/8 {
		return "", anerr.Malformed("entropy must be 16 bytes", nil)
	}
	sum := sha256.Sum256(entropy)
	checksumBits := sum[0] >> 4 // top 4 bits

	bits := make([]byte, 0, len(entropy)*8+4)
	for _, b := range entropy {
		for i := 7; i >= 0; i-- {
			bits = append(bits, (b>>uint(i))&1)
		}
	}
	for i := 3; i >= 0; i-- {
		bits = append(bits, (checksumBits>>uint(i))&1)
	}

	words := make([]string, 0, 12)
	for i := 0; i < len(bits); i += 11 {
		idx := 0
		for j := 0; j < 11; j++ {
			idx = (idx << 1) | int(bits[i+j])
		}
		words = append(words, wordlist[idx])
	}
	return strings.Join(words, " "), nil
}

// ValidateMnemonic checks word-list membership, word count, and
// checksum validity without deriving any key material.
func ValidateMnemonic(mnemonic string) error {
	_, err := entropyFromMnemonic(mnemonic)
	return err
}

func entropyFromMnemonic(mnemonic string) ([]byte, error) {
	words := strings.Fields(strings.ToLower(mnemonic))
	if len(words) != 12 {
		return nil, anerr.Malformed(fmt.Sprintf("mnemonic has %d words, want 12", len(words)), nil)
	}

	bits := make([]byte, 0, 12*11)
	for _, w := range words {
		idx := wordIndex(w)
		if idx < 0 {
			return nil, anerr.Malformed(fmt.Sprintf("word %q not in wordlist", w), nil)
		}
		for i := 10; i >= 0; i-- {
			bits = append(bits, byte((idx>>uint(i))&1))
		}
	}

	entropy := make([]byte, mnemonicEntropyBits/8)
	for i := range entropy {
		var b byte
		for j := 0; j < 8; j++ {
			b = (b << 1) | bits[i*8+j]
		}
		entropy[i] = b
	}

	var wantChecksum byte
	for j := 0; j < 4; j++ {
		wantChecksum = (wantChecksum << 1) | bits[128+j]
	}

	sum := sha256.Sum256(entropy)
	gotChecksum := sum[0] >> 4
	if wantChecksum != gotChecksum {
		return nil, anerr.Malformed("mnemonic checksum mismatch", nil)
	}
	return entropy, nil
}

// SeedFromMnemonic derives the EC P-256 private scalar from a 12-word
// mnemonic and an optional passphrase: PBKDF2-HMAC-SHA512 with 2048
// iterations over salt "anonet-identity" || passphrase, producing a
// 64-byte seed whose first 32 bytes are reduced mod the curve order
// (reduced to 1 if the reduction is zero).
func SeedFromMnemonic(mnemonic, passphrase string) (*big.Int, error) {
	if _, err := entropyFromMnemonic(mnemonic); err != nil {
		return nil, err
	}
	salt := []byte("anonet-identity" + passphrase)
	seed := pbkdf2.Key([]byte(mnemonic), salt, 2048, 64, sha512.New)
	scalar := new(big.Int).SetBytes(seed[:32])
	order := elliptic.P256().Params().N
	scalar.Mod(scalar, order)
	if scalar.Sign() == 0 {
		scalar.SetInt64(1)
	}
	return scalar, nil
}

// FromMnemonic derives a full Identity deterministically from a
// mnemonic and optional passphrase.
func FromMnemonic(mnemonic, passphrase string) (*Identity, error) {
	scalar, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return FromScalar(scalar)
}
