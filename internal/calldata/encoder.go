// Package calldata turns swap intents into router call payloads. Every
// function is pure: no I/O, no clock reads.
package calldata

import (
	"fmt"
	"math/big"
	"strings"

	xerrors "MonadSwap-Engine/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RouterKind selects the call convention of a router contract.
type RouterKind string

const (
	KindUniversal    RouterKind = "universal"
	KindSwapRouter02 RouterKind = "swap_router02"
	KindSwapRouter   RouterKind = "swap_router"
)

// Direction is buy (native to token) or sell (token to native).
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// ParseDirection accepts "buy" or "sell" in any case.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(raw))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", xerrors.New(xerrors.CodeValidation, fmt.Sprintf("direction must be buy or sell, got %q", raw))
	}
}

const (
	// CommandExactInput is the single command byte used for path swaps.
	CommandExactInput byte = 0x0b
	// DeadlineWindow is the validity window added to the latest block time.
	DeadlineWindow uint64 = 1200

	Input1Length = 20 + 32 + 32 + 20
	Input2Length = 1 + 20 + 20

	pathHops byte = 0x02
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// SwapParams is the 8-field single-hop exact-input tuple. Field names match
// the ABI component names.
type SwapParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// swapParams02 is the deadline-less tuple of SwapRouter02.
type swapParams02 struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// EncodedCall is the command/input/deadline triple for a universal router.
type EncodedCall struct {
	Command  []byte
	Inputs   [][]byte
	Deadline *big.Int
}

// PathInput is the decoded form of input1.
type PathInput struct {
	Token            common.Address
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
	Recipient        common.Address
}

// ParseAddress decodes a 0x-prefixed or bare hex address and requires exactly
// 20 bytes.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	decoded, err := hexutil.Decode("0x" + trimmed)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeEncoding, err, fmt.Sprintf("address %q is not valid hex", raw))
	}
	if len(decoded) != common.AddressLength {
		return common.Address{}, xerrors.New(xerrors.CodeEncoding,
			fmt.Sprintf("address %q decodes to %d bytes, want %d", raw, len(decoded), common.AddressLength))
	}
	return common.BytesToAddress(decoded), nil
}

func checkAmount(name string, v *big.Int) error {
	if v == nil {
		return xerrors.New(xerrors.CodeEncoding, name+" is nil")
	}
	if v.Sign() < 0 {
		return xerrors.New(xerrors.CodeEncoding, fmt.Sprintf("%s is negative: %s", name, v))
	}
	if v.Cmp(maxUint256) > 0 {
		return xerrors.New(xerrors.CodeEncoding, fmt.Sprintf("%s exceeds uint256: %s", name, v))
	}
	return nil
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

// Deadline returns latestTimestamp plus the validity window.
func Deadline(latestTimestamp uint64) *big.Int {
	return new(big.Int).SetUint64(latestTimestamp + DeadlineWindow)
}

// EncodeSingleHop builds the exact-input tuple. The price limit is always
// zero, so the swap carries no price-limit protection.
func EncodeSingleHop(tokenIn, tokenOut string, fee uint32, recipient string, amountIn, amountOutMinimum *big.Int, deadline uint64) (SwapParams, error) {
	in, err := ParseAddress(tokenIn)
	if err != nil {
		return SwapParams{}, err
	}
	out, err := ParseAddress(tokenOut)
	if err != nil {
		return SwapParams{}, err
	}
	to, err := ParseAddress(recipient)
	if err != nil {
		return SwapParams{}, err
	}
	if err := checkAmount("amount_in", amountIn); err != nil {
		return SwapParams{}, err
	}
	if err := checkAmount("amount_out_minimum", amountOutMinimum); err != nil {
		return SwapParams{}, err
	}
	if fee >= 1<<24 {
		return SwapParams{}, xerrors.New(xerrors.CodeEncoding, fmt.Sprintf("fee %d exceeds uint24", fee))
	}
	return SwapParams{
		TokenIn:           in,
		TokenOut:          out,
		Fee:               new(big.Int).SetUint64(uint64(fee)),
		Recipient:         to,
		Deadline:          new(big.Int).SetUint64(deadline),
		AmountIn:          new(big.Int).Set(amountIn),
		AmountOutMinimum:  new(big.Int).Set(amountOutMinimum),
		SqrtPriceLimitX96: new(big.Int),
	}, nil
}

// PackExactInputSingle packs params for a swap_router or swap_router02
// contract. The 02 tuple has no deadline field.
func PackExactInputSingle(kind RouterKind, params SwapParams) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch kind {
	case KindSwapRouter:
		data, err = SwapRouterABI.Pack("exactInputSingle", params)
	case KindSwapRouter02:
		data, err = SwapRouter02ABI.Pack("exactInputSingle", swapParams02{
			TokenIn:           params.TokenIn,
			TokenOut:          params.TokenOut,
			Fee:               params.Fee,
			Recipient:         params.Recipient,
			AmountIn:          params.AmountIn,
			AmountOutMinimum:  params.AmountOutMinimum,
			SqrtPriceLimitX96: params.SqrtPriceLimitX96,
		})
	default:
		return nil, xerrors.New(xerrors.CodeEncoding, fmt.Sprintf("router kind %q has no exactInputSingle", kind))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "pack exactInputSingle")
	}
	return data, nil
}

// EncodePathSwap builds the command byte and the two inputs of a path swap.
// A buy routes native -> token, a sell token -> native. The native leg is
// encoded as nativePlaceholder; pass the zero address for the canonical
// 20 zero bytes.
func EncodePathSwap(direction Direction, nativePlaceholder, token string, amountIn *big.Int, recipient string) (byte, [][]byte, error) {
	native, err := ParseAddress(nativePlaceholder)
	if err != nil {
		return 0, nil, err
	}
	tokenAddr, err := ParseAddress(token)
	if err != nil {
		return 0, nil, err
	}
	to, err := ParseAddress(recipient)
	if err != nil {
		return 0, nil, err
	}
	if err := checkAmount("amount_in", amountIn); err != nil {
		return 0, nil, err
	}

	input1 := make([]byte, 0, Input1Length)
	input1 = append(input1, tokenAddr.Bytes()...)
	input1 = append(input1, word(amountIn)...)
	input1 = append(input1, make([]byte, 32)...)
	input1 = append(input1, to.Bytes()...)

	input2 := make([]byte, 0, Input2Length)
	input2 = append(input2, pathHops)
	switch direction {
	case Buy:
		input2 = append(input2, native.Bytes()...)
		input2 = append(input2, tokenAddr.Bytes()...)
	case Sell:
		input2 = append(input2, tokenAddr.Bytes()...)
		input2 = append(input2, native.Bytes()...)
	default:
		return 0, nil, xerrors.New(xerrors.CodeEncoding, fmt.Sprintf("unknown direction %q", direction))
	}
	return CommandExactInput, [][]byte{input1, input2}, nil
}

// DecodePathInput reverses the input1 layout.
func DecodePathInput(input1 []byte) (PathInput, error) {
	if len(input1) != Input1Length {
		return PathInput{}, xerrors.New(xerrors.CodeEncoding,
			fmt.Sprintf("input1 is %d bytes, want %d", len(input1), Input1Length))
	}
	return PathInput{
		Token:            common.BytesToAddress(input1[0:20]),
		AmountIn:         new(big.Int).SetBytes(input1[20:52]),
		AmountOutMinimum: new(big.Int).SetBytes(input1[52:84]),
		Recipient:        common.BytesToAddress(input1[84:]),
	}, nil
}

// PackExecute packs a universal router execute(commands, inputs, deadline).
func PackExecute(commands []byte, inputs [][]byte, deadline *big.Int) ([]byte, error) {
	if err := checkAmount("deadline", deadline); err != nil {
		return nil, err
	}
	data, err := UniversalRouterABI.Pack("execute", commands, inputs, deadline)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "pack execute")
	}
	return data, nil
}

// EncodeMulticall batches already-encoded sub-calls unchanged.
func EncodeMulticall(calls [][]byte) [][]byte {
	batch := make([][]byte, len(calls))
	for i, call := range calls {
		batch[i] = append([]byte(nil), call...)
	}
	return batch
}

// PackMulticall wraps sub-calls in the router's multicall entry point.
// swap_router02 takes a leading deadline.
func PackMulticall(kind RouterKind, deadline *big.Int, calls [][]byte) ([]byte, error) {
	batch := EncodeMulticall(calls)
	var (
		data []byte
		err  error
	)
	switch kind {
	case KindSwapRouter:
		data, err = SwapRouterABI.Pack("multicall", batch)
	case KindSwapRouter02:
		if cerr := checkAmount("deadline", deadline); cerr != nil {
			return nil, cerr
		}
		data, err = SwapRouter02ABI.Pack("multicall", deadline, batch)
	default:
		return nil, xerrors.New(xerrors.CodeEncoding, fmt.Sprintf("router kind %q has no multicall", kind))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "pack multicall")
	}
	return data, nil
}

// PackUnwrapWETH9 packs unwrapWETH9(amountMinimum, recipient).
func PackUnwrapWETH9(amountMinimum *big.Int, recipient common.Address) ([]byte, error) {
	if err := checkAmount("amount_minimum", amountMinimum); err != nil {
		return nil, err
	}
	data, err := SwapRouterABI.Pack("unwrapWETH9", amountMinimum, recipient)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "pack unwrapWETH9")
	}
	return data, nil
}

// PackApprove packs ERC20 approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	if err := checkAmount("amount", amount); err != nil {
		return nil, err
	}
	data, err := ERC20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "pack approve")
	}
	return data, nil
}

// PackQuoteExactInputSingle packs the quoter read with no price limit.
func PackQuoteExactInputSingle(tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) ([]byte, error) {
	if err := checkAmount("amount_in", amountIn); err != nil {
		return nil, err
	}
	data, err := QuoterABI.Pack("quoteExactInputSingle", tokenIn, tokenOut, new(big.Int).SetUint64(uint64(fee)), amountIn, new(big.Int))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "pack quoteExactInputSingle")
	}
	return data, nil
}

// UnpackQuote decodes the quoter output.
func UnpackQuote(output []byte) (*big.Int, error) {
	values, err := QuoterABI.Unpack("quoteExactInputSingle", output)
	if err != nil {
		return nil, err
	}
	return bigAt(values, 0)
}

// PackGetPool packs factory getPool(tokenA, tokenB, fee).
func PackGetPool(tokenA, tokenB common.Address, fee uint32) ([]byte, error) {
	data, err := FactoryABI.Pack("getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "pack getPool")
	}
	return data, nil
}

// UnpackPool decodes a getPool result.
func UnpackPool(output []byte) (common.Address, error) {
	values, err := FactoryABI.Unpack("getPool", output)
	if err != nil {
		return common.Address{}, err
	}
	return addressAt(values, 0)
}

// PackRouterView packs a no-argument router view such as WETH9 or factory.
func PackRouterView(method string) ([]byte, error) {
	data, err := SwapRouterABI.Pack(method)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "pack "+method)
	}
	return data, nil
}

// UnpackRouterAddress decodes an address-returning router view.
func UnpackRouterAddress(method string, output []byte) (common.Address, error) {
	values, err := SwapRouterABI.Unpack(method, output)
	if err != nil {
		return common.Address{}, err
	}
	return addressAt(values, 0)
}

// PackERC20 packs an ERC20 read or write by method name.
func PackERC20(method string, args ...any) ([]byte, error) {
	data, err := ERC20ABI.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "pack erc20 "+method)
	}
	return data, nil
}

// UnpackERC20 decodes the single return value of an ERC20 read.
func UnpackERC20(method string, output []byte) (any, error) {
	values, err := ERC20ABI.Unpack(method, output)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("erc20 %s returned no values", method)
	}
	return values[0], nil
}

func bigAt(values []any, i int) (*big.Int, error) {
	if len(values) <= i {
		return nil, fmt.Errorf("missing return value %d", i)
	}
	v, ok := values[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("return value %d is %T, want *big.Int", i, values[i])
	}
	return v, nil
}

func addressAt(values []any, i int) (common.Address, error) {
	if len(values) <= i {
		return common.Address{}, fmt.Errorf("missing return value %d", i)
	}
	v, ok := values[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("return value %d is %T, want address", i, values[i])
	}
	return v, nil
}
