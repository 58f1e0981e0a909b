package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"MonadSwap-Engine/sdk/go/swapd"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","network":"Monad Testnet","connected":true,"chain_id":"10143"}`))
	})
	mux.HandleFunc("POST /api/token/balance", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"balance":"1500000000000000000","readable_balance":"1.5","decimals":18}}`))
	})
	mux.HandleFunc("POST /api/pool/monitor/start", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"monitor_id":"monitor_0","status":"started"}}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := swapd.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("network=%s connected=%v chain_id=%s\n", health.Network, health.Connected, health.ChainID)

	const (
		token  = "0x0F0BDEbF0F83cD1EE3974779Bcb7315f9808c714"
		wallet = "0x71562b71999873DB5b286dF957af199Ec94617F7"
	)
	bal, err := client.TokenBalance(ctx, token, wallet)
	if err != nil {
		panic(err)
	}
	fmt.Printf("balance %s (%s raw)\n", bal.ReadableBalance, bal.Balance)

	id, err := client.StartMonitor(ctx, swapd.MonitorRequest{TokenAddress: token, WalletAddress: wallet, Threshold: "0.01"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("started monitor %s\n", id)
}
