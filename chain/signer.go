package chain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// operatorDerivationPath is the fixed BIP-44 path for the operator account:
// m/44'/60'/0'/0/0.
var operatorDerivationPath = []uint32{
	hdkeychain.HardenedKeyStart + 44,
	hdkeychain.HardenedKeyStart + 60,
	hdkeychain.HardenedKeyStart + 0,
	0,
	0,
}

// LoadOperatorKey resolves the operator signing key from a raw hex key or,
// when only a mnemonic is configured, by BIP-44 derivation. Returns nil when
// neither is set: the service then runs read-only and rejects operator
// transaction submission.
func LoadOperatorKey(privateKeyHex, mnemonic string) (*ecdsa.PrivateKey, error) {
	if privateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid operator private key: %w", err)
		}
		return key, nil
	}

	if mnemonic == "" {
		return nil, nil
	}

	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid operator mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	for _, index := range operatorDerivationPath {
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("derive operator key: %w", err)
		}
	}

	ecPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("export operator key: %w", err)
	}
	return ecPriv.ToECDSA(), nil
}
