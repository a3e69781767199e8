package signature

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// eip7702MagicPrefix is the domain byte prepended to the rlp payload of a
// set-code authorization before hashing.
const eip7702MagicPrefix = 0x05

// Authorization7702 is a signed EIP-7702 authorization tuple delegating the
// EOA's code to a contract implementation.
type Authorization7702 struct {
	Address common.Address `json:"address"`
	ChainID *big.Int       `json:"chainId"`
	Nonce   uint64         `json:"nonce"`
	R       common.Hash    `json:"r"`
	S       common.Hash    `json:"s"`
	V       uint8          `json:"v"`
	YParity uint8          `json:"yParity"`
}

// AuthorizationHash is the digest an EOA signs to authorize the delegation:
// keccak256(0x05 || rlp(chainId, address, nonce)).
func AuthorizationHash(chainID *big.Int, delegate common.Address, nonce uint64) (common.Hash, error) {
	payload, err := rlp.EncodeToBytes([]interface{}{chainID, delegate, nonce})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to rlp-encode authorization: %w", err)
	}
	data := make([]byte, 0, len(payload)+1)
	data = append(data, eip7702MagicPrefix)
	data = append(data, payload...)
	return crypto.Keccak256Hash(data), nil
}

// NewAuthorization7702 assembles a signed authorization tuple from a 65-byte
// signature whose recovery id uses the 27/28 mapping.
func NewAuthorization7702(chainID *big.Int, delegate common.Address, nonce uint64, sig []byte) (*Authorization7702, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("authorization signature must be 65 bytes, got %d", len(sig))
	}
	v := sig[64]
	if v != 27 && v != 28 {
		return nil, fmt.Errorf("authorization signature v must be 27 or 28, got %d", v)
	}
	return &Authorization7702{
		Address: delegate,
		ChainID: chainID,
		Nonce:   nonce,
		R:       common.BytesToHash(sig[:32]),
		S:       common.BytesToHash(sig[32:64]),
		V:       v,
		YParity: v - 27,
	}, nil
}

// Recover returns the EOA address that signed the authorization.
func (a *Authorization7702) Recover() (common.Address, error) {
	hash, err := AuthorizationHash(a.ChainID, a.Address, a.Nonce)
	if err != nil {
		return common.Address{}, err
	}
	sig := make([]byte, 65)
	copy(sig[:32], a.R.Bytes())
	copy(sig[32:64], a.S.Bytes())
	sig[64] = a.YParity
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover authorization signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
