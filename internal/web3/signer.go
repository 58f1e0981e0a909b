package web3

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParsePrivateKey decodes a hex encoded secp256k1 key, with or without 0x.
// The returned error never contains key material.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, common.Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	trimmed = strings.TrimPrefix(trimmed, "0X")
	if trimmed == "" {
		return nil, common.Address{}, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, common.Address{}, errors.New("private key is not a valid secp256k1 hex string")
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// SignTransaction signs tx for chainID and returns the signed transaction
// together with its canonical binary encoding.
func SignTransaction(tx *types.Transaction, chainID *big.Int, key *ecdsa.PrivateKey) (*types.Transaction, []byte, error) {
	if tx == nil {
		return nil, nil, errors.New("transaction is nil")
	}
	if key == nil {
		return nil, nil, errors.New("signing key is nil")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, nil, fmt.Errorf("invalid chain id %v", chainID)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, nil, fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("encode signed transaction: %w", err)
	}
	return signed, raw, nil
}
