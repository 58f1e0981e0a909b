package calldata

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const swapRouterABIJSON = `[
 {"name":"exactInputSingle","type":"function","stateMutability":"payable",
  "inputs":[{"name":"params","type":"tuple","components":[
    {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
    {"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},
    {"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},
    {"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
  "outputs":[{"name":"amountOut","type":"uint256"}]},
 {"name":"multicall","type":"function","stateMutability":"payable",
  "inputs":[{"name":"data","type":"bytes[]"}],"outputs":[{"name":"results","type":"bytes[]"}]},
 {"name":"unwrapWETH9","type":"function","stateMutability":"payable",
  "inputs":[{"name":"amountMinimum","type":"uint256"},{"name":"recipient","type":"address"}],"outputs":[]},
 {"name":"WETH9","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"name":"factory","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const swapRouter02ABIJSON = `[
 {"name":"exactInputSingle","type":"function","stateMutability":"payable",
  "inputs":[{"name":"params","type":"tuple","components":[
    {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
    {"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},
    {"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},
    {"name":"sqrtPriceLimitX96","type":"uint160"}]}],
  "outputs":[{"name":"amountOut","type":"uint256"}]},
 {"name":"multicall","type":"function","stateMutability":"payable",
  "inputs":[{"name":"deadline","type":"uint256"},{"name":"data","type":"bytes[]"}],
  "outputs":[{"name":"results","type":"bytes[]"}]}
]`

const universalRouterABIJSON = `[
 {"name":"execute","type":"function","stateMutability":"payable",
  "inputs":[{"name":"commands","type":"bytes"},{"name":"inputs","type":"bytes[]"},{"name":"deadline","type":"uint256"}],
  "outputs":[]}
]`

const erc20ABIJSON = `[
 {"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const factoryABIJSON = `[
 {"name":"getPool","type":"function","stateMutability":"view",
  "inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],
  "outputs":[{"name":"pool","type":"address"}]}
]`

const quoterABIJSON = `[
 {"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable",
  "inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
    {"name":"fee","type":"uint24"},{"name":"amountIn","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}],
  "outputs":[{"name":"amountOut","type":"uint256"}]}
]`

var (
	SwapRouterABI      = mustParse(swapRouterABIJSON)
	SwapRouter02ABI    = mustParse(swapRouter02ABIJSON)
	UniversalRouterABI = mustParse(universalRouterABIJSON)
	ERC20ABI           = mustParse(erc20ABIJSON)
	FactoryABI         = mustParse(factoryABIJSON)
	QuoterABI          = mustParse(quoterABIJSON)
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("calldata: invalid abi table: " + err.Error())
	}
	return parsed
}
