package signature

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambirelabs/walletcore/src/domain"
)

type fakeChainCaller struct {
	code       []byte
	codeErr    error
	callResult []byte
	callErr    error
}

func (f *fakeChainCaller) CodeAt(_ context.Context, _ common.Address, _ *big.Int) ([]byte, error) {
	return f.code, f.codeErr
}

func (f *fakeChainCaller) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f.callResult, f.callErr
}

func TestVerifyMessageEOA(t *testing.T) {
	signer := newTestSigner(t)
	hash := crypto.Keccak256Hash([]byte("hello"))

	sig, err := signer.SignHash(hash.Bytes())
	require.NoError(t, err)

	// bare 65-byte signature skips the code lookup entirely
	caller := &fakeChainCaller{codeErr: errors.New("should not be called")}

	result, err := VerifyMessage(context.Background(), caller, signer.Address(), hash, sig)
	require.NoError(t, err)
	assert.Equal(t, VerifyValid, result)

	other := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	result, err = VerifyMessage(context.Background(), caller, other, hash, sig)
	require.NoError(t, err)
	assert.Equal(t, VerifyInvalid, result)

	tampered := append([]byte{}, sig...)
	tampered[5] ^= 0xff
	result, err = VerifyMessage(context.Background(), caller, signer.Address(), hash, tampered)
	require.NoError(t, err)
	assert.Equal(t, VerifyInvalid, result)
}

func TestVerifyMessageEIP1271(t *testing.T) {
	account := common.HexToAddress("0x77777777789A8BBEE6C64381e5E89E501fb0e4c8")
	hash := crypto.Keccak256Hash([]byte("hello"))
	sig := WrapStandard(make([]byte, 65))

	t.Run("magic value accepted", func(t *testing.T) {
		result32 := make([]byte, 32)
		copy(result32, eip1271MagicValue[:])
		caller := &fakeChainCaller{code: []byte{0x60}, callResult: result32}

		result, err := VerifyMessage(context.Background(), caller, account, hash, sig)
		require.NoError(t, err)
		assert.Equal(t, VerifyValid, result)
	})

	t.Run("wrong magic rejected", func(t *testing.T) {
		caller := &fakeChainCaller{code: []byte{0x60}, callResult: make([]byte, 32)}

		result, err := VerifyMessage(context.Background(), caller, account, hash, sig)
		require.NoError(t, err)
		assert.Equal(t, VerifyInvalid, result)
	})

	t.Run("validator revert surfaces as unknown", func(t *testing.T) {
		caller := &fakeChainCaller{code: []byte{0x60}, callErr: errors.New("execution reverted")}

		result, err := VerifyMessage(context.Background(), caller, account, hash, sig)
		assert.Equal(t, VerifyUnknown, result)
		var domainErr domain.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, string(domain.ErrorCodeRemoteProcess), domainErr.Name())
	})
}

func TestVerifyMessageCounterfactual(t *testing.T) {
	signer := newTestSigner(t)
	hash := crypto.Keccak256Hash([]byte("hello"))

	// proxy bytecode embedding the privileged key, as the factory deploys it
	factory := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	salt := common.HexToHash("0x01")
	bytecode := append([]byte{0x60, 0x80, 0x60, 0x40}, signer.Address().Bytes()...)
	account := crypto.CreateAddress2(factory, salt, crypto.Keccak256(bytecode))

	calldata, err := DeployCalldata(bytecode, salt)
	require.NoError(t, err)

	raw, err := signer.SignHash(hash.Bytes())
	require.NoError(t, err)
	wrapped, err := WrapCounterfactual(factory, calldata, WrapUnprotected(raw))
	require.NoError(t, err)

	// the account has no code yet: validate against the 6492 envelope
	caller := &fakeChainCaller{code: nil}

	result, err := VerifyMessage(context.Background(), caller, account, hash, wrapped)
	require.NoError(t, err)
	assert.Equal(t, VerifyValid, result)

	t.Run("envelope must derive the claimed address", func(t *testing.T) {
		other := common.HexToAddress("0x1111111111111111111111111111111111111111")
		result, err := VerifyMessage(context.Background(), caller, other, hash, wrapped)
		require.NoError(t, err)
		assert.Equal(t, VerifyInvalid, result)
	})

	t.Run("key outside the deployment bytecode rejected", func(t *testing.T) {
		attackerKey, err := crypto.GenerateKey()
		require.NoError(t, err)
		attacker := NewECDSASigner(attackerKey)

		attackerSig, err := attacker.SignHash(hash.Bytes())
		require.NoError(t, err)
		forged, err := WrapCounterfactual(factory, calldata, WrapUnprotected(attackerSig))
		require.NoError(t, err)

		result, err := VerifyMessage(context.Background(), caller, account, hash, forged)
		require.NoError(t, err)
		assert.Equal(t, VerifyInvalid, result)
	})

	t.Run("attacker-built envelope cannot claim a victim address", func(t *testing.T) {
		attackerKey, err := crypto.GenerateKey()
		require.NoError(t, err)
		attacker := NewECDSASigner(attackerKey)

		attackerBytecode := append([]byte{0x60, 0x80}, attacker.Address().Bytes()...)
		attackerCalldata, err := DeployCalldata(attackerBytecode, salt)
		require.NoError(t, err)
		attackerSig, err := attacker.SignHash(hash.Bytes())
		require.NoError(t, err)
		forged, err := WrapCounterfactual(factory, attackerCalldata, WrapUnprotected(attackerSig))
		require.NoError(t, err)

		victim := common.HexToAddress("0x1111111111111111111111111111111111111111")
		result, err := VerifyMessage(context.Background(), caller, victim, hash, forged)
		require.NoError(t, err)
		assert.Equal(t, VerifyInvalid, result)
	})

	t.Run("malformed inner signature rejected", func(t *testing.T) {
		bad, err := WrapCounterfactual(factory, calldata, WrapUnprotected(make([]byte, 10)))
		require.NoError(t, err)
		result, err := VerifyMessage(context.Background(), caller, account, hash, bad)
		require.NoError(t, err)
		assert.Equal(t, VerifyInvalid, result)
	})

	t.Run("code fetch failure is unknown", func(t *testing.T) {
		failing := &fakeChainCaller{codeErr: errors.New("rpc down")}
		result, err := VerifyMessage(context.Background(), failing, account, hash, wrapped)
		assert.Equal(t, VerifyUnknown, result)
		assert.Error(t, err)
	})
}

func TestDecodeDeployCalldataRoundTrip(t *testing.T) {
	bytecode := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	salt := common.HexToHash("0x2a")

	calldata, err := DeployCalldata(bytecode, salt)
	require.NoError(t, err)

	gotBytecode, gotSalt, err := DecodeDeployCalldata(calldata)
	require.NoError(t, err)
	assert.Equal(t, bytecode, gotBytecode)
	assert.Equal(t, salt, gotSalt)

	_, _, err = DecodeDeployCalldata([]byte{0x01, 0x02})
	assert.Error(t, err)
}
