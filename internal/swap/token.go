package swap

import (
	"context"
	"fmt"
	"math/big"

	"MonadSwap-Engine/internal/calldata"
	xerrors "MonadSwap-Engine/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TokenInfo is ERC20 metadata plus the router that would serve the token.
type TokenInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Router   string `json:"universal_router"`
}

// Balance is a token or native balance in both raw and readable form.
type Balance struct {
	Raw      *big.Int        `json:"-"`
	Readable decimal.Decimal `json:"-"`
	Decimals uint8           `json:"decimals"`
}

func (e *Engine) erc20Call(ctx context.Context, token common.Address, method string, args ...any) (any, error) {
	data, err := calldata.PackERC20(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := e.chain.CallContract(ctx, gethcore.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "erc20 "+method)
	}
	value, err := calldata.UnpackERC20(method, out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "decode erc20 "+method)
	}
	return value, nil
}

func (e *Engine) tokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	v, err := e.erc20Call(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := v.(uint8)
	if !ok {
		return 0, xerrors.New(xerrors.CodeChainUnavailable, fmt.Sprintf("decimals returned %T", v))
	}
	return d, nil
}

func (e *Engine) tokenBalanceRaw(ctx context.Context, token, wallet common.Address) (*big.Int, error) {
	v, err := e.erc20Call(ctx, token, "balanceOf", wallet)
	if err != nil {
		return nil, err
	}
	b, ok := v.(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeChainUnavailable, fmt.Sprintf("balanceOf returned %T", v))
	}
	return b, nil
}

func (e *Engine) allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	v, err := e.erc20Call(ctx, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	a, ok := v.(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeChainUnavailable, fmt.Sprintf("allowance returned %T", v))
	}
	return a, nil
}

// TokenInfo reads name, symbol and decimals and resolves the router.
func (e *Engine) TokenInfo(ctx context.Context, token string) (*TokenInfo, error) {
	if !common.IsHexAddress(token) {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("invalid token address %q", token))
	}
	addr := common.HexToAddress(token)

	name, err := e.erc20Call(ctx, addr, "name")
	if err != nil {
		return nil, err
	}
	symbol, err := e.erc20Call(ctx, addr, "symbol")
	if err != nil {
		return nil, err
	}
	decimals, err := e.tokenDecimals(ctx, addr)
	if err != nil {
		return nil, err
	}
	info, err := e.routes.Resolve(ctx, addr)
	if err != nil {
		return nil, err
	}
	n, _ := name.(string)
	s, _ := symbol.(string)
	return &TokenInfo{
		Address:  addr.Hex(),
		Name:     n,
		Symbol:   s,
		Decimals: decimals,
		Router:   info.Address.Hex(),
	}, nil
}

// TokenBalance reads the ERC20 balance of wallet.
func (e *Engine) TokenBalance(ctx context.Context, token, wallet string) (*Balance, error) {
	if !common.IsHexAddress(token) {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("invalid token address %q", token))
	}
	if !common.IsHexAddress(wallet) {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("invalid wallet address %q", wallet))
	}
	tokenAddr := common.HexToAddress(token)
	decimals, err := e.tokenDecimals(ctx, tokenAddr)
	if err != nil {
		return nil, err
	}
	raw, err := e.tokenBalanceRaw(ctx, tokenAddr, common.HexToAddress(wallet))
	if err != nil {
		return nil, err
	}
	return &Balance{Raw: raw, Readable: FromBaseUnits(raw, decimals), Decimals: decimals}, nil
}

// NativeBalance reads the native currency balance of wallet.
func (e *Engine) NativeBalance(ctx context.Context, wallet common.Address) (*Balance, error) {
	raw, err := e.chain.BalanceAt(ctx, wallet)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "read native balance")
	}
	return &Balance{Raw: raw, Readable: FromBaseUnits(raw, NativeDecimals), Decimals: NativeDecimals}, nil
}

// requiredBalance converts amount for direction and reads the matching balance.
func (e *Engine) requiredBalance(ctx context.Context, wallet, token common.Address, direction calldata.Direction, amount decimal.Decimal) (*big.Int, *Balance, error) {
	if direction == calldata.Buy {
		need, err := ToBaseUnits(amount, NativeDecimals)
		if err != nil {
			return nil, nil, err
		}
		bal, err := e.NativeBalance(ctx, wallet)
		if err != nil {
			return nil, nil, err
		}
		return need, bal, nil
	}

	decimals, err := e.tokenDecimals(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	need, err := ToBaseUnits(amount, decimals)
	if err != nil {
		return nil, nil, err
	}
	raw, err := e.tokenBalanceRaw(ctx, token, wallet)
	if err != nil {
		return nil, nil, err
	}
	return need, &Balance{Raw: raw, Readable: FromBaseUnits(raw, decimals), Decimals: decimals}, nil
}

// CheckBalance verifies wallet holds amount × multiplier of the input asset
// of req. It performs reads only.
func (e *Engine) CheckBalance(ctx context.Context, wallet common.Address, req Request, multiplier int64) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if multiplier < 1 {
		multiplier = 1
	}
	total := req.Amount.Mul(decimal.NewFromInt(multiplier))
	need, bal, err := e.requiredBalance(ctx, wallet, req.TokenAddress(), req.Direction, total)
	if err != nil {
		return err
	}
	if bal.Raw.Cmp(need) < 0 {
		return insufficient(req.Direction, bal, total)
	}
	return nil
}

func insufficient(direction calldata.Direction, bal *Balance, want decimal.Decimal) error {
	asset := "token"
	if direction == calldata.Buy {
		asset = "native"
	}
	return xerrors.New(xerrors.CodeInsufficientFunds,
		fmt.Sprintf("insufficient %s balance: have %s, need %s", asset, bal.Readable.String(), want.String()),
		xerrors.WithMetadata("balance", bal.Readable.String()),
	)
}
