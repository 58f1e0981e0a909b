package calldata

import (
	"bytes"
	"math/big"
	"testing"

	xerrors "MonadSwap-Engine/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	token     = "0xf817257fed379853cDe0fa4F97AB987181B1E5Ea"
	wallet    = "0x1111111111111111111111111111111111111111"
	zeroAddr  = "0x0000000000000000000000000000000000000000"
	routerHex = "0x3ae6d8a282d67893e17aa70ebffb33ee5aa65893"
)

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func TestEncodePathSwapLengths(t *testing.T) {
	amounts := []*big.Int{big.NewInt(1), big.NewInt(1e18), maxUint256}
	for _, dir := range []Direction{Buy, Sell} {
		for _, amount := range amounts {
			cmd, inputs, err := EncodePathSwap(dir, zeroAddr, token, amount, wallet)
			require.NoError(t, err)
			assert.Equal(t, CommandExactInput, cmd)
			require.Len(t, inputs, 2)
			assert.Len(t, inputs[0], Input1Length)
			assert.Len(t, inputs[1], Input2Length)
			assert.Equal(t, 104, len(inputs[0]))
			assert.Equal(t, 41, len(inputs[1]))
		}
	}
}

func TestEncodePathSwapLegOrder(t *testing.T) {
	tokenAddr := common.HexToAddress(token)
	zero := make([]byte, 20)

	_, buy, err := EncodePathSwap(Buy, zeroAddr, token, big.NewInt(5), wallet)
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), buy[1][0])
	assert.Equal(t, zero, buy[1][1:21])
	assert.Equal(t, tokenAddr.Bytes(), buy[1][21:41])

	_, sell, err := EncodePathSwap(Sell, zeroAddr, token, big.NewInt(5), wallet)
	require.NoError(t, err)
	assert.Equal(t, tokenAddr.Bytes(), sell[1][1:21])
	assert.Equal(t, zero, sell[1][21:41])
}

func TestPathInputRoundTrip(t *testing.T) {
	amount, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	_, inputs, err := EncodePathSwap(Sell, zeroAddr, token, amount, wallet)
	require.NoError(t, err)

	decoded, err := DecodePathInput(inputs[0])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(token), decoded.Token)
	assert.Equal(t, 0, amount.Cmp(decoded.AmountIn))
	assert.Equal(t, 0, decoded.AmountOutMinimum.Sign())
	assert.Equal(t, common.HexToAddress(wallet), decoded.Recipient)

	_, err = DecodePathInput(inputs[0][:80])
	assert.True(t, xerrors.HasCode(err, xerrors.CodeEncoding))
}

func TestEncodingErrors(t *testing.T) {
	short := "0x11111111111111111111111111111111111111"
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)

	cases := map[string]func() error{
		"short address": func() error {
			_, _, err := EncodePathSwap(Buy, zeroAddr, short, big.NewInt(1), wallet)
			return err
		},
		"non hex recipient": func() error {
			_, _, err := EncodePathSwap(Buy, zeroAddr, token, big.NewInt(1), "0xnothex")
			return err
		},
		"amount over uint256": func() error {
			_, _, err := EncodePathSwap(Buy, zeroAddr, token, tooBig, wallet)
			return err
		},
		"negative amount": func() error {
			_, err := EncodeSingleHop(token, zeroAddr, 3000, wallet, big.NewInt(-1), big.NewInt(0), 1)
			return err
		},
		"fee over uint24": func() error {
			_, err := EncodeSingleHop(token, zeroAddr, 1<<24, wallet, big.NewInt(1), big.NewInt(0), 1)
			return err
		},
		"unknown direction": func() error {
			_, _, err := EncodePathSwap(Direction("hold"), zeroAddr, token, big.NewInt(1), wallet)
			return err
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			err := fn()
			require.Error(t, err)
			assert.Equal(t, xerrors.CodeEncoding, xerrors.CodeOf(err))
		})
	}
}

func TestParseAddressAcceptsBareHex(t *testing.T) {
	addr, err := ParseAddress("3ae6d8a282d67893e17aa70ebffb33ee5aa65893")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(routerHex), addr)
}

func TestEncodeSingleHopAndPack(t *testing.T) {
	params, err := EncodeSingleHop(zeroAddr, token, 3000, wallet, big.NewInt(1000), big.NewInt(990), 1700001200)
	require.NoError(t, err)
	assert.Equal(t, 0, params.SqrtPriceLimitX96.Sign())
	assert.EqualValues(t, 3000, params.Fee.Int64())
	assert.EqualValues(t, 1700001200, params.Deadline.Int64())

	v1, err := PackExactInputSingle(KindSwapRouter, params)
	require.NoError(t, err)
	assert.Equal(t, selector("exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))"), v1[:4])
	assert.Len(t, v1, 4+8*32)

	v2, err := PackExactInputSingle(KindSwapRouter02, params)
	require.NoError(t, err)
	assert.Equal(t, selector("exactInputSingle((address,address,uint24,address,uint256,uint256,uint160))"), v2[:4])
	assert.Len(t, v2, 4+7*32)

	_, err = PackExactInputSingle(KindUniversal, params)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeEncoding))
}

func TestPackExecuteRoundTrip(t *testing.T) {
	cmd, inputs, err := EncodePathSwap(Buy, zeroAddr, token, big.NewInt(42), wallet)
	require.NoError(t, err)
	deadline := Deadline(1_700_000_000)
	assert.EqualValues(t, 1_700_001_200, deadline.Int64())

	data, err := PackExecute([]byte{cmd}, inputs, deadline)
	require.NoError(t, err)
	assert.Equal(t, selector("execute(bytes,bytes[],uint256)"), data[:4])

	values, err := UniversalRouterABI.Methods["execute"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, []byte{CommandExactInput}, values[0].([]byte))
	decodedInputs := values[1].([][]byte)
	require.Len(t, decodedInputs, 2)
	assert.True(t, bytes.Equal(inputs[0], decodedInputs[0]))
	assert.Equal(t, 0, deadline.Cmp(values[2].(*big.Int)))
}

func TestMulticallAndUnwrap(t *testing.T) {
	sub := [][]byte{{0x01, 0x02}, {0x03}}
	batch := EncodeMulticall(sub)
	require.Equal(t, sub, batch)
	batch[0][0] = 0xff
	assert.Equal(t, byte(0x01), sub[0][0])

	unwrap, err := PackUnwrapWETH9(big.NewInt(0), common.HexToAddress(wallet))
	require.NoError(t, err)
	assert.Equal(t, selector("unwrapWETH9(uint256,address)"), unwrap[:4])

	v1, err := PackMulticall(KindSwapRouter, nil, [][]byte{unwrap})
	require.NoError(t, err)
	assert.Equal(t, selector("multicall(bytes[])"), v1[:4])

	v2, err := PackMulticall(KindSwapRouter02, big.NewInt(99), [][]byte{unwrap})
	require.NoError(t, err)
	assert.Equal(t, selector("multicall(uint256,bytes[])"), v2[:4])

	_, err = PackMulticall(KindUniversal, nil, nil)
	assert.Error(t, err)
}

func TestERC20AndViewPacking(t *testing.T) {
	approve, err := PackApprove(common.HexToAddress(routerHex), big.NewInt(2000))
	require.NoError(t, err)
	assert.Equal(t, selector("approve(address,uint256)"), approve[:4])

	balanceOf, err := PackERC20("balanceOf", common.HexToAddress(wallet))
	require.NoError(t, err)
	assert.Equal(t, selector("balanceOf(address)"), balanceOf[:4])

	out, err := ERC20ABI.Methods["decimals"].Outputs.Pack(uint8(18))
	require.NoError(t, err)
	decimals, err := UnpackERC20("decimals", out)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), decimals)

	quoteOut, err := QuoterABI.Methods["quoteExactInputSingle"].Outputs.Pack(big.NewInt(777))
	require.NoError(t, err)
	quote, err := UnpackQuote(quoteOut)
	require.NoError(t, err)
	assert.EqualValues(t, 777, quote.Int64())

	poolOut, err := FactoryABI.Methods["getPool"].Outputs.Pack(common.HexToAddress(wallet))
	require.NoError(t, err)
	pool, err := UnpackPool(poolOut)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(wallet), pool)

	weth, err := PackRouterView("WETH9")
	require.NoError(t, err)
	assert.Equal(t, selector("WETH9()"), weth)

	quoteIn, err := PackQuoteExactInputSingle(common.HexToAddress(token), common.Address{}, 500, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, selector("quoteExactInputSingle(address,address,uint24,uint256,uint160)"), quoteIn[:4])
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" BUY ")
	require.NoError(t, err)
	assert.Equal(t, Buy, d)

	_, err = ParseDirection("swap")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeValidation))
}
