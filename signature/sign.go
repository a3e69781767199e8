package signature

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ambirelabs/walletcore/src/domain"
)

// Signer abstracts the raw key, which may live in memory or on a hardware
// device. SignHash must return a 65-byte r||s||v signature with v in {27,28}.
type Signer interface {
	Address() common.Address
	SignHash(hash []byte) ([]byte, error)
}

// ECDSASigner signs with an in-memory secp256k1 key.
type ECDSASigner struct {
	key *ecdsa.PrivateKey
}

func NewECDSASigner(key *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{key: key}
}

func NewECDSASignerFromHex(privateKeyHex string) (*ECDSASigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &ECDSASigner{key: key}, nil
}

func (s *ECDSASigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *ECDSASigner) SignHash(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	// crypto.Sign yields v in {0,1}; contracts expect the 27/28 mapping
	sig[64] += 27
	return sig, nil
}

// SignContext carries the policy inputs of one signing request.
type SignContext struct {
	Account *domain.Account
	State   *domain.AccountOnchainState
	ChainID *big.Int
	// IsOG bypasses the v1 phishing guard for the explicitly trusted internal
	// signer path. Narrow escape hatch; callers must gate it on an allow-list.
	IsOG bool
}

// dedicated reports whether the signing key is marked dedicated to this one
// account in the on-chain privileges.
func (c *SignContext) dedicated(key common.Address) bool {
	return c.State != nil && c.State.IsKeyDedicated(key)
}

// finalize applies the 6492 counterfactual envelope when the account has
// creation data but is not deployed yet.
func (c *SignContext) finalize(sig []byte) ([]byte, error) {
	if c.Account.Creation == nil || (c.State != nil && c.State.IsDeployed) {
		return sig, nil
	}
	calldata, err := DeployCalldata(c.Account.Creation.Bytecode, c.Account.Creation.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to build deploy calldata: %w", err)
	}
	return WrapCounterfactual(c.Account.Creation.FactoryAddr, calldata, sig)
}

// messageContainsAddress implements the v1 anti-phishing guard: the account's
// own address must appear verbatim in the signed payload, as lowercase hex,
// checksummed hex, or embedded raw bytes.
func messageContainsAddress(message []byte, addr common.Address) bool {
	lower := []byte(strings.ToLower(addr.Hex()))
	checksummed := []byte(addr.Hex())
	if bytes.Contains(message, lower) || bytes.Contains(message, checksummed) {
		return true
	}
	stripped := strings.TrimPrefix(strings.ToLower(addr.Hex()), "0x")
	if bytes.Contains(bytes.ToLower(message), []byte(stripped)) {
		return true
	}
	hexMsg := hex.EncodeToString(message)
	return strings.Contains(hexMsg, stripped)
}

func errPolicyV1Guard(addr common.Address) error {
	return domain.NewError(
		domain.ErrorCodeSignaturePolicy,
		fmt.Errorf("message does not contain the account address %s", addr.Hex()),
		domain.WithMsg("To protect you from phishing, messages signed by this account must mention its address"),
	)
}

// PlainTextSignature signs a personal (EIP-191) message under the digest
// construction policy:
//   - EOA: sign the message hash directly, no wrapping
//   - v1 account: reject unless the message mentions the account (or IsOG)
//   - v2 + dedicated key: sign directly, wrap Unprotected
//   - v2 + shared key: sign the AmbireOperation envelope, wrap Standard
//
// Undeployed smart accounts additionally get the 6492 envelope.
func PlainTextSignature(signer Signer, sctx *SignContext, message []byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, domain.NewError(domain.ErrorCodeParameterInvalid, errors.New("empty message"))
	}
	hash := accounts.TextHash(message)

	if sctx.Account.IsEOA() {
		return signer.SignHash(hash)
	}

	if !sctx.Account.IsV2 {
		if !sctx.IsOG && !messageContainsAddress(message, sctx.Account.Addr) {
			return nil, errPolicyV1Guard(sctx.Account.Addr)
		}
		sig, err := signer.SignHash(hash)
		if err != nil {
			return nil, err
		}
		return sctx.finalize(WrapStandard(sig))
	}

	if sctx.dedicated(signer.Address()) {
		sig, err := signer.SignHash(hash)
		if err != nil {
			return nil, err
		}
		return sctx.finalize(WrapUnprotected(sig))
	}

	// shared key: the user must sign an explicit, attributable intent
	digest, err := TypedDataHash(AmbireOperationTypedData(sctx.ChainID, sctx.Account.Addr, common.BytesToHash(hash)))
	if err != nil {
		return nil, err
	}
	sig, err := signer.SignHash(digest.Bytes())
	if err != nil {
		return nil, err
	}
	return sctx.finalize(WrapStandard(sig))
}

// TypedDataSignature signs EIP-712 typed data under the same policy table.
// v2 accounts require a dedicated key on this path; a shared key signing raw
// typed data would hide the account it acts for.
func TypedDataSignature(signer Signer, sctx *SignContext, typedData apitypes.TypedData) ([]byte, error) {
	if typedData.PrimaryType == "" {
		return nil, domain.NewError(domain.ErrorCodeParameterInvalid, errors.New("typed data has no primaryType"))
	}

	digest, err := TypedDataHash(typedData)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeParameterInvalid, err)
	}

	if sctx.Account.IsEOA() {
		return signer.SignHash(digest.Bytes())
	}

	if !sctx.Account.IsV2 {
		serialized, err := typedDataJSON(typedData)
		if err != nil {
			return nil, err
		}
		if !sctx.IsOG && !messageContainsAddress(serialized, sctx.Account.Addr) {
			return nil, errPolicyV1Guard(sctx.Account.Addr)
		}
		sig, err := signer.SignHash(digest.Bytes())
		if err != nil {
			return nil, err
		}
		return sctx.finalize(WrapStandard(sig))
	}

	if !sctx.dedicated(signer.Address()) {
		return nil, domain.NewError(
			domain.ErrorCodeSignaturePolicy,
			fmt.Errorf("key %s is not dedicated to account %s", signer.Address().Hex(), sctx.Account.Addr.Hex()),
			domain.WithMsg("Only a key dedicated to this account can sign typed data on its behalf"),
		)
	}
	sig, err := signer.SignHash(digest.Bytes())
	if err != nil {
		return nil, err
	}
	return sctx.finalize(WrapUnprotected(sig))
}

// ExecuteSignature authorizes an operation's calls for on-chain execution.
// v1 accounts sign the personal-message hash of the call hash; v2 accounts
// sign the AmbireOperation envelope over it. Both are wrapped Standard.
func ExecuteSignature(signer Signer, sctx *SignContext, op *domain.AccountOp) ([]byte, error) {
	callsHash, err := AccountOpSignableHash(op)
	if err != nil {
		return nil, err
	}

	var digest []byte
	if sctx.Account.IsV2 {
		typedDigest, err := TypedDataHash(AmbireOperationTypedData(op.ChainID, op.AccountAddr, callsHash))
		if err != nil {
			return nil, err
		}
		digest = typedDigest.Bytes()
	} else {
		digest = accounts.TextHash(callsHash.Bytes())
	}

	sig, err := signer.SignHash(digest)
	if err != nil {
		return nil, err
	}
	return WrapStandard(sig), nil
}

func typedDataJSON(typedData apitypes.TypedData) ([]byte, error) {
	serialized, err := json.Marshal(typedData)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("failed to serialize typed data: %w", err))
	}
	return serialized, nil
}
