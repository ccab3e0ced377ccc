package userop

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6"),
		Nonce:                big.NewInt(0),
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         big.NewInt(300000),
		VerificationGasLimit: big.NewInt(500000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		Signature:            []byte{},
	}
}

func TestWireFormatOmitsFactoryForDeployedSender(t *testing.T) {
	op := sampleOp()

	data, err := json.Marshal(op)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	_, hasFactory := raw["factory"]
	_, hasFactoryData := raw["factoryData"]
	assert.False(t, hasFactory, "deployed sender must not carry a factory field")
	assert.False(t, hasFactoryData)
	assert.Equal(t, "0x", raw["signature"], "signature stays an empty placeholder")
}

func TestWireFormatCarriesFactoryForUndeployedSender(t *testing.T) {
	op := sampleOp()
	factory := common.HexToAddress("0x29adA1b5217242DEaBB142BC3b1bCfFdd56008e7")
	op.Factory = &factory
	op.FactoryData = common.FromHex("0x5fbfb9cf")

	data, err := json.Marshal(op)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, factory.Hex(), raw["factory"])
	assert.Equal(t, "0x5fbfb9cf", raw["factoryData"])
	assert.True(t, op.HasFactory())
}

func TestJSONRoundTrip(t *testing.T) {
	op := sampleOp()
	paymaster := common.HexToAddress("0xB985af5f96EF2722DC99aEBA573520903B86505e")
	op.Paymaster = &paymaster
	op.PaymasterData = []byte{}

	data, err := json.Marshal(op)
	require.NoError(t, err)

	var back UserOperation
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, op.Sender, back.Sender)
	assert.Equal(t, 0, back.Nonce.Cmp(op.Nonce))
	assert.Equal(t, op.CallData, back.CallData)
	assert.Equal(t, 0, back.MaxFeePerGas.Cmp(op.MaxFeePerGas))
	require.NotNil(t, back.Paymaster)
	assert.Equal(t, paymaster, *back.Paymaster)
	assert.Nil(t, back.Factory)
}
