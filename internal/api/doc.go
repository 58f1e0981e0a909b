// Package api exposes the swap engine over HTTP: token queries, immediate and
// scheduled swaps, balance monitors with a websocket event stream, the swap
// history ledger and the Prometheus exposition endpoint.
package api
