package identity

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintIsFunctionOfPublicKeyOnly(t *testing.T) {
	scalar := big.NewInt(123456789)
	id1, err := FromScalar(new(big.Int).Set(scalar))
	require.NoError(t, err)
	id2, err := FromScalar(new(big.Int).Set(scalar))
	require.NoError(t, err)

	require.Equal(t, id1.Fingerprint(), id2.Fingerprint())
	require.Len(t, id1.Fingerprint(), 64)
	require.Equal(t, strings.ToUpper(id1.Fingerprint()[:8]), id1.Discriminator())

	other, err := Generate()
	require.NoError(t, err)
	require.NotEqual(t, id1.Fingerprint(), other.Fingerprint())
}

func TestMnemonicRoundTrip(t *testing.T) {
	mnemonic, err := NewMnemonic()
	require.NoError(t, err)
	require.NoError(t, ValidateMnemonic(mnemonic))

	id1, err := FromMnemonic(mnemonic, "")
	require.NoError(t, err)
	id2, err := FromMnemonic(mnemonic, "")
	require.NoError(t, err)

	require.Equal(t, id1.Fingerprint(), id2.Fingerprint())
}

func TestMnemonicPassphraseChangesIdentity(t *testing.T) {
	mnemonic, err := NewMnemonic()
	require.NoError(t, err)

	id1, err := FromMnemonic(mnemonic, "alpha")
	require.NoError(t, err)
	id2, err := FromMnemonic(mnemonic, "beta")
	require.NoError(t, err)

	require.NotEqual(t, id1.Fingerprint(), id2.Fingerprint())
}

func TestMnemonicChecksumRejectsCorruption(t *testing.T) {
	mnemonic, err := NewMnemonic()
	require.NoError(t, err)

	// Flip the lowest bit of the last word's index: that bit is part of
	// the 4-bit checksum, so every word stays in the list but the
	// checksum no longer matches the entropy.
	words := strings.Fields(mnemonic)
	last := wordIndex(words[11])
	require.GreaterOrEqual(t, last, 0)
	words[11] = wordlist[last^1]
	corrupted := strings.Join(words, " ")
	require.ErrorContains(t, ValidateMnemonic(corrupted), "checksum")
}

func TestSignVerify(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	msg := []byte("hello anonet")
	sig, err := id.Sign(msg)
	require.NoError(t, err)
	require.True(t, Verify(id.PublicKey(), msg, sig))
	require.False(t, Verify(id.PublicKey(), []byte("tampered"), sig))
}
