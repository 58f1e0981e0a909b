// Package web3 houses blockchain connectivity contracts: the ChainClient
// interface consumed by the swap engine, transaction signing helpers and
// the YAML chain definition loader used by the provider registry.
package web3
