package signature

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrapModes(t *testing.T) {
	raw := make([]byte, 65)
	for i := range raw {
		raw[i] = byte(i)
	}

	standard := WrapStandard(raw)
	require.Len(t, standard, 66)
	assert.Equal(t, byte(SigModeStandard), standard[len(standard)-1])

	inner, mode, err := Unwrap(standard)
	require.NoError(t, err)
	assert.Equal(t, SigModeStandard, mode)
	assert.Equal(t, raw, inner)

	unprotected := WrapUnprotected(raw)
	assert.Equal(t, byte(SigModeUnprotected), unprotected[len(unprotected)-1])

	inner, mode, err = Unwrap(unprotected)
	require.NoError(t, err)
	assert.Equal(t, SigModeUnprotected, mode)
	assert.Equal(t, raw, inner)

	_, _, err = Unwrap(nil)
	assert.Error(t, err)
}

func TestWrapWallet(t *testing.T) {
	raw := make([]byte, 65)
	wallet := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	wrapped := WrapWallet(raw, wallet)
	// raw + standard suffix + 32-byte address + wallet suffix
	require.Len(t, wrapped, 65+1+32+1)
	assert.Equal(t, byte(SigModeWallet), wrapped[len(wrapped)-1])

	addr, err := WalletAddr(wrapped)
	require.NoError(t, err)
	assert.Equal(t, wallet, addr)

	inner, mode, err := Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, SigModeWallet, mode)
	// the wallet wrap strips down to the standard-wrapped inner signature
	assert.Equal(t, WrapStandard(raw), inner)

	_, err = WalletAddr(WrapStandard(raw))
	assert.Error(t, err)
}

func TestCounterfactualRoundTrip(t *testing.T) {
	factory := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	calldata := []byte{0xde, 0xad, 0xbe, 0xef}
	sig := WrapStandard(make([]byte, 65))

	wrapped, err := WrapCounterfactual(factory, calldata, sig)
	require.NoError(t, err)
	assert.True(t, IsCounterfactual(wrapped))
	assert.Equal(t, magicBytes6492, wrapped[len(wrapped)-32:])

	gotFactory, gotCalldata, gotSig, err := UnwrapCounterfactual(wrapped)
	require.NoError(t, err)
	assert.Equal(t, factory, gotFactory)
	assert.Equal(t, calldata, gotCalldata)
	assert.Equal(t, sig, gotSig)
}

func TestUnwrapCounterfactualPassthrough(t *testing.T) {
	sig := make([]byte, 65)
	assert.False(t, IsCounterfactual(sig))

	factory, calldata, inner, err := UnwrapCounterfactual(sig)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, factory)
	assert.Nil(t, calldata)
	assert.Equal(t, sig, inner)
}

func TestDeployCalldata(t *testing.T) {
	calldata, err := DeployCalldata([]byte{0x60, 0x80}, common.HexToHash("0x01"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(calldata), 4)

	method, err := factoryABI.MethodById(calldata[:4])
	require.NoError(t, err)
	assert.Equal(t, "deploy", method.Name)
}
