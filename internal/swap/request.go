package swap

import (
	"fmt"
	"math/big"
	"strings"

	"MonadSwap-Engine/internal/calldata"
	xerrors "MonadSwap-Engine/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeDecimals is the precision of the chain's native currency.
const NativeDecimals uint8 = 18

var hundred = decimal.NewFromInt(100)

// Request is a validated-on-use swap intent. Amount is expressed in token
// units (native units for a buy) and converted to base units once.
type Request struct {
	Wallet    string             `json:"wallet_address,omitempty"`
	Token     string             `json:"token_address"`
	Amount    decimal.Decimal    `json:"amount"`
	Direction calldata.Direction `json:"trade_type"`
	Slippage  decimal.Decimal    `json:"slippage"`
}

// Validate checks address format, amount sign, direction and slippage range.
func (r Request) Validate() error {
	if !common.IsHexAddress(strings.TrimSpace(r.Token)) {
		return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("invalid token address %q", r.Token))
	}
	if r.Wallet != "" && !common.IsHexAddress(strings.TrimSpace(r.Wallet)) {
		return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("invalid wallet address %q", r.Wallet))
	}
	if !r.Amount.IsPositive() {
		return xerrors.New(xerrors.CodeValidation, "amount must be greater than 0")
	}
	if r.Direction != calldata.Buy && r.Direction != calldata.Sell {
		return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("trade_type must be buy or sell, got %q", r.Direction))
	}
	if r.Slippage.IsNegative() || r.Slippage.GreaterThan(hundred) {
		return xerrors.New(xerrors.CodeValidation, "slippage must be within [0, 100]")
	}
	return nil
}

// TokenAddress returns the parsed token address. Call Validate first.
func (r Request) TokenAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(r.Token))
}

// ToBaseUnits converts a decimal amount to integer base units, truncating
// digits below the token precision.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	units := amount.Shift(int32(decimals)).Truncate(0)
	if !units.IsPositive() {
		return nil, xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("amount %s is below the precision of %d decimals", amount, decimals))
	}
	return units.BigInt(), nil
}

// FromBaseUnits renders base units as a decimal amount.
func FromBaseUnits(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// MinimumOut applies slippage to a quoted output: quote * (100 - slippage) / 100.
func MinimumOut(quote *big.Int, slippage decimal.Decimal) *big.Int {
	if quote == nil || quote.Sign() <= 0 {
		return new(big.Int)
	}
	factor := hundred.Sub(slippage)
	if factor.IsNegative() {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(quote, 0).Mul(factor).Div(hundred).Truncate(0).BigInt()
}
