package service

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/monitor"
	"MonadSwap-Engine/internal/storage/history"
	"MonadSwap-Engine/internal/swap"
	"MonadSwap-Engine/internal/task"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	testWallet = "0x71562b71999873DB5b286dF957af199Ec94617F7"
	testToken  = "0x1111111111111111111111111111111111111111"
)

type fakeChain struct{ connected bool }

func (f fakeChain) IsConnected(context.Context) bool { return f.connected }
func (f fakeChain) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(10143), nil
}

type fakeEngine struct {
	lastReq swap.Request
	outcome *swap.Outcome
	err     error
}

func (f *fakeEngine) TokenInfo(_ context.Context, token string) (*swap.TokenInfo, error) {
	if token != testToken {
		return nil, xerrors.New(xerrors.CodeValidation, "invalid token address")
	}
	return &swap.TokenInfo{Address: token, Name: "Wrapped", Symbol: "WMON", Decimals: 18}, nil
}

func (f *fakeEngine) TokenBalance(context.Context, string, string) (*swap.Balance, error) {
	return &swap.Balance{Raw: big.NewInt(1_500_000), Readable: decimal.RequireFromString("1.5"), Decimals: 6}, nil
}

func (f *fakeEngine) Execute(_ context.Context, _ *ecdsa.PrivateKey, req swap.Request) (*swap.Outcome, error) {
	f.lastReq = req
	return f.outcome, f.err
}

type fakeScheduler struct {
	submitted []task.SubmitRequest
	tasks     []*task.Task
}

func (f *fakeScheduler) Submit(_ context.Context, _ *ecdsa.PrivateKey, req task.SubmitRequest) (*task.Task, error) {
	f.submitted = append(f.submitted, req)
	t := &task.Task{ID: "task_0", Status: task.StatusScheduled, ThreadCount: req.ThreadCount, RunCount: req.RunCount}
	f.tasks = append(f.tasks, t)
	return t, nil
}

func (f *fakeScheduler) List(context.Context, ...task.ListOption) ([]*task.Task, error) {
	return f.tasks, nil
}

func (f *fakeScheduler) Stats(context.Context, ...task.ListOption) (task.TaskStats, error) {
	return task.TaskStats{Total: len(f.tasks)}, nil
}

type nopReader struct{}

func (nopReader) TokenBalance(context.Context, string, string) (*swap.Balance, error) {
	return &swap.Balance{Raw: big.NewInt(0)}, nil
}

func newTestService(t *testing.T, engine *fakeEngine, opts ...Option) (*Service, *fakeScheduler) {
	t.Helper()
	sched := &fakeScheduler{}
	monitors := monitor.NewService(nopReader{})
	return New(fakeChain{connected: true}, engine, sched, monitors, opts...), sched
}

func TestHealth(t *testing.T) {
	svc := New(fakeChain{connected: false}, nil, nil, nil, WithNetwork("Monad Testnet"))
	res := svc.Health(context.Background())
	require.True(t, res.Success)
	data := res.Data.(map[string]any)
	assert.Equal(t, "Monad Testnet", data["network"])
	assert.Equal(t, false, data["connected"])
	assert.Equal(t, "degraded", data["status"])
	assert.Equal(t, "10143", data["chain_id"])
}

func TestTokenInfoAndBalance(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{})

	res := svc.GetTokenInfo(context.Background(), testToken)
	require.True(t, res.Success)
	assert.Equal(t, "WMON", res.Data.(*swap.TokenInfo).Symbol)

	res = svc.GetTokenInfo(context.Background(), "0x123")
	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeValidation, res.Code)
	assert.Equal(t, "invalid token address", res.Error)

	res = svc.GetTokenBalance(context.Background(), testToken, testWallet)
	require.True(t, res.Success)
	assert.Equal(t, BalanceView{Balance: "1500000", ReadableBalance: "1.5", Decimals: 6}, res.Data)
}

func TestExecuteSwapDefaults(t *testing.T) {
	engine := &fakeEngine{outcome: &swap.Outcome{Status: "success", TxHash: "0xabc"}}
	svc, _ := newTestService(t, engine)

	res := svc.ExecuteSwap(context.Background(), SwapInput{PrivateKey: "0x" + testKey, Token: testToken, Amount: "0.1"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "buy", string(engine.lastReq.Direction))
	assert.True(t, engine.lastReq.Slippage.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, testWallet, engine.lastReq.Wallet)
}

func TestExecuteSwapRejectsBadInput(t *testing.T) {
	engine := &fakeEngine{}
	svc, _ := newTestService(t, engine)
	ctx := context.Background()

	res := svc.ExecuteSwap(ctx, SwapInput{PrivateKey: "not-a-key", Token: testToken, Amount: "1"})
	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeValidation, res.Code)
	assert.NotContains(t, res.Error, "not-a-key")

	res = svc.ExecuteSwap(ctx, SwapInput{PrivateKey: testKey, Token: testToken, Amount: "1", TradeType: "hold"})
	assert.Equal(t, xerrors.CodeValidation, res.Code)

	res = svc.ExecuteSwap(ctx, SwapInput{PrivateKey: testKey, Token: testToken, Amount: "abc"})
	assert.Equal(t, xerrors.CodeValidation, res.Code)

	res = svc.ExecuteSwap(ctx, SwapInput{PrivateKey: testKey, Token: testToken, Amount: "0"})
	assert.Equal(t, xerrors.CodeValidation, res.Code)
	assert.True(t, engine.lastReq.Token == "", "invalid input must not reach the engine")
}

func TestExecuteSwapKeepsOutcomeOnRevert(t *testing.T) {
	engine := &fakeEngine{
		outcome: &swap.Outcome{Status: "reverted", TxHash: "0xdead"},
		err:     xerrors.New(xerrors.CodeReverted, "transaction reverted", xerrors.WithMetadata("tx_hash", "0xdead")),
	}
	svc, _ := newTestService(t, engine)

	res := svc.ExecuteSwap(context.Background(), SwapInput{PrivateKey: testKey, Token: testToken, Amount: "1", TradeType: "sell"})
	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeReverted, res.Code)
	require.NotNil(t, res.Data)
	assert.Equal(t, "0xdead", res.Data.(*swap.Outcome).TxHash)
}

func TestScheduleSwap(t *testing.T) {
	svc, sched := newTestService(t, &fakeEngine{})
	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	res := svc.ScheduleSwap(context.Background(), ScheduleInput{
		SwapInput:    SwapInput{PrivateKey: testKey, Token: testToken, Amount: "2"},
		ScheduleTime: at.Format(time.RFC3339),
	})
	require.True(t, res.Success, res.Error)
	require.Len(t, sched.submitted, 1)
	assert.True(t, sched.submitted[0].ScheduleTime.Equal(at))
	assert.Equal(t, 1, sched.submitted[0].ThreadCount)
	assert.Equal(t, 1, sched.submitted[0].RunCount)

	res = svc.ScheduleSwap(context.Background(), ScheduleInput{
		SwapInput:    SwapInput{PrivateKey: testKey, Token: testToken, Amount: "2"},
		ScheduleTime: "tomorrow",
	})
	assert.Equal(t, xerrors.CodeValidation, res.Code)

	res = svc.ListScheduledTasks(context.Background(), TaskQuery{})
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Data.(map[string]any)["total_count"])

	res = svc.ListScheduledTasks(context.Background(), TaskQuery{Statuses: []string{"Failed", "paused"}})
	assert.Equal(t, xerrors.CodeValidation, res.Code)
}

type nopChecker struct{}

func (nopChecker) CheckBalance(context.Context, common.Address, swap.Request, int64) error { return nil }

func TestScheduleSwapRejectsExplicitOutOfRangeCounts(t *testing.T) {
	sched := task.NewScheduler(task.NewMemoryStore(), task.NewMemoryQueue(4), nopChecker{}, nil)
	t.Cleanup(func() { _ = sched.Close() })
	svc := New(fakeChain{connected: true}, &fakeEngine{}, sched, monitor.NewService(nopReader{}))
	at := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	count := func(n int) *int { return &n }

	cases := []struct {
		name          string
		threads, runs *int
	}{
		{name: "zero runs", threads: count(1), runs: count(0)},
		{name: "zero threads", threads: count(0), runs: count(1)},
		{name: "too many threads", threads: count(11), runs: count(1)},
		{name: "too many runs", threads: count(1), runs: count(101)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := svc.ScheduleSwap(context.Background(), ScheduleInput{
				SwapInput:    SwapInput{PrivateKey: testKey, Token: testToken, Amount: "2"},
				ScheduleTime: at,
				ThreadCount:  tc.threads,
				RunCount:     tc.runs,
			})
			assert.False(t, res.Success)
			assert.Equal(t, xerrors.CodeValidation, res.Code)
		})
	}
	assert.Zero(t, sched.Pending())

	res := svc.ScheduleSwap(context.Background(), ScheduleInput{
		SwapInput:    SwapInput{PrivateKey: testKey, Token: testToken, Amount: "2"},
		ScheduleTime: at,
		RunCount:     count(3),
	})
	require.True(t, res.Success, res.Error)
	created := res.Data.(*task.Task)
	assert.Equal(t, 1, created.ThreadCount)
	assert.Equal(t, 3, created.RunCount)
	assert.Equal(t, 3, created.TotalTrades)
}

func TestParseScheduleTime(t *testing.T) {
	got, err := ParseScheduleTime("2030-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), got)

	got, err = ParseScheduleTime("2030-01-02T03:04:05")
	require.NoError(t, err)
	assert.Equal(t, time.Local, got.Location())

	_, err = ParseScheduleTime("")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeValidation))
}

func TestMonitorLifecycle(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{}, WithDefaultThreshold(decimal.RequireFromString("0.5")))
	ctx := context.Background()

	res := svc.StartMonitor(ctx, MonitorInput{Token: testToken, Wallet: testWallet})
	require.True(t, res.Success, res.Error)
	started := res.Data.(map[string]any)
	assert.Equal(t, "monitor_0", started["monitor_id"])
	assert.Equal(t, "started", started["status"])

	res = svc.ListMonitors(ctx)
	require.True(t, res.Success)
	list := res.Data.(map[string]any)
	assert.Equal(t, 1, list["total_count"])
	assert.True(t, list["monitors"].([]monitor.Monitor)[0].Threshold.Equal(decimal.RequireFromString("0.5")))

	res = svc.StartMonitor(ctx, MonitorInput{Token: testToken, Wallet: testWallet, Threshold: "x"})
	assert.Equal(t, xerrors.CodeValidation, res.Code)

	res = svc.StopMonitor(ctx, "monitor_0")
	require.True(t, res.Success)
	assert.Equal(t, "stopped", res.Data.(map[string]any)["status"])

	res = svc.StopMonitor(ctx, "monitor_0")
	assert.False(t, res.Success)
	assert.Equal(t, "monitor id not found", res.Error)
}

func TestHistory(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{})
	res := svc.History(context.Background(), "", 10)
	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeInitializationFailure, res.Code)

	ledger, err := history.NewMemoryLedger(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ledger.Save(context.Background(), history.Record{ID: "r-1", Wallet: testWallet}))

	svc, _ = newTestService(t, &fakeEngine{}, WithLedger(ledger))
	res = svc.History(context.Background(), testWallet, 10)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Data.(map[string]any)["total_count"])
}
