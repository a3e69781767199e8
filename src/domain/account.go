package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AccountCreation holds the CREATE2 inputs needed to deploy a smart account.
// A nil AccountCreation on an Account means the account is a plain EOA.
type AccountCreation struct {
	FactoryAddr common.Address `json:"factoryAddr"`
	Bytecode    []byte         `json:"bytecode"`
	Salt        common.Hash    `json:"salt"`
}

// Privilege is an (address, value) pair from the account's privileges mapping.
// A non-zero value grants the key signing rights on the account.
type Privilege struct {
	Key   common.Address `json:"key"`
	Value common.Hash    `json:"value"`
}

// DedicatedToOneSAPriv is the privilege value marking a key as usable for
// exactly one smart account. Such keys sign with the Unprotected format.
var DedicatedToOneSAPriv = common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000002")

// Account is the immutable identity of a wallet account. Only associatedKeys
// may change after creation, and only through the account-management layer.
type Account struct {
	Addr              common.Address   `json:"addr"`
	AssociatedKeys    []common.Address `json:"associatedKeys"`
	InitialPrivileges []Privilege      `json:"initialPrivileges"`
	Creation          *AccountCreation `json:"creation"`
	IsV2              bool             `json:"isV2"`
}

// IsEOA reports whether the account is externally owned (no creation data).
func (a *Account) IsEOA() bool {
	return a.Creation == nil
}

// AccountOnchainState is the per-chain snapshot of an account, refreshed by an
// external collaborator. This core only reads it.
type AccountOnchainState struct {
	AccountAddr              common.Address                 `json:"accountAddr"`
	IsDeployed               bool                           `json:"isDeployed"`
	Nonce                    *big.Int                       `json:"nonce"`
	Erc4337Nonce             *big.Int                       `json:"erc4337Nonce"`
	AssociatedKeysPrivileges map[common.Address]common.Hash `json:"associatedKeysPrivileges"`
	IsErc4337Enabled         bool                           `json:"isErc4337Enabled"`
	IsErc4337Nonce           bool                           `json:"isErc4337Nonce"`
	CurrentBlock             uint64                         `json:"currentBlock"`
}

// IsKeyDedicated reports whether key is marked as dedicated to this one
// account, which makes it eligible for the lighter Unprotected signature.
func (s *AccountOnchainState) IsKeyDedicated(key common.Address) bool {
	priv, ok := s.AssociatedKeysPrivileges[key]
	if !ok {
		return false
	}
	return priv == DedicatedToOneSAPriv
}

// Call is one call of an account operation. Immutable once included.
type Call struct {
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
	Data  []byte         `json:"data"`
}
