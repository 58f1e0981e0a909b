// Package config loads swapd configuration from a YAML or JSON file, an
// optional .env file and SWAPD_ prefixed environment variables. Defaults
// target the Monad testnet deployment.
package config
