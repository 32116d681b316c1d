package tracker

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chainwatch/internal/address"
	"github.com/mbd888/chainwatch/internal/balance"
	"github.com/mbd888/chainwatch/internal/bridge"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/events"
	"github.com/mbd888/chainwatch/internal/ingest"
	"github.com/mbd888/chainwatch/internal/prices"
	"github.com/mbd888/chainwatch/internal/provider"
	"github.com/mbd888/chainwatch/internal/provider/providertest"
	"github.com/mbd888/chainwatch/internal/realtime"
	"github.com/mbd888/chainwatch/internal/retry"
	"github.com/mbd888/chainwatch/internal/risk"
	"github.com/mbd888/chainwatch/internal/transactions"
	"github.com/mbd888/chainwatch/internal/wallet"
)

const (
	walletAddr = "0x1111111111111111111111111111111111111111"
	peerAddr   = "0x2222222222222222222222222222222222222222"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type recordingHub struct {
	events []*realtime.Event
}

func (h *recordingHub) Broadcast(e *realtime.Event) bool {
	h.events = append(h.events, e)
	return true
}

type fixture struct {
	tracker     *Tracker
	account     *providertest.Account
	txs         *transactions.MemoryStore
	assessments *risk.MemoryStore
	snapshots   *balance.MemoryStore
	hub         *recordingHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := providertest.Registry(0, chains.Ethereum)
	dialer := providertest.NewDialer()
	account := providertest.NewAccount()
	dialer.Set(providertest.PrimaryURL(chains.Ethereum), account)

	pool := provider.NewPool(registry, dialer, provider.WithRetryPolicy(retry.Policy{MaxAttempts: 1}))
	t.Cleanup(pool.Close)

	now := func() time.Time { return t0.Add(time.Hour) }
	priceSource := prices.Static{"ETH": decimal.NewFromInt(3000)}

	txs := transactions.NewMemoryStore()
	transfers := bridge.NewMemoryStore()
	assessments := risk.NewMemoryStore()
	snapshots := balance.NewMemoryStore()

	cfg := risk.DefaultConfig()
	detector := bridge.DefaultDetector()
	engine := risk.NewEngine(cfg, registry, detector)
	hub := &recordingHub{}

	wallets := wallet.NewService(wallet.NewMemoryStore(), address.NewValidator(registry),
		wallet.WithCascade(txs, transfers, assessments, snapshots),
		wallet.WithClock(now),
	)
	deps := Deps{
		Wallets:     wallets,
		Ingestor:    ingest.New(pool, txs, transfers, detector, engine, ingest.WithPrices(priceSource), ingest.WithClock(now)),
		Reconciler:  bridge.NewReconciler(transfers, txs, detector, cfg.Transfer),
		Balances:    balance.NewAggregator(pool, priceSource, snapshots, nil).WithClock(now),
		Snapshots:   snapshots,
		Assessor:    risk.NewAssessor(engine, txs, transfers, assessments, 0, nil),
		Assessments: assessments,
		Pool:        pool,
		Emitter:     events.NewEmitter(nil, events.NewHubPublisher(hub)),
	}
	return &fixture{
		tracker:     New(deps, WithClock(now)),
		account:     account,
		txs:         txs,
		assessments: assessments,
		snapshots:   snapshots,
		hub:         hub,
	}
}

func (f *fixture) createWallet(t *testing.T, label string) *wallet.Wallet {
	t.Helper()
	w, err := f.tracker.Wallets.Create(context.Background(), wallet.CreateRequest{
		Label:     label,
		Addresses: []transactions.Ref{{Chain: chains.Ethereum, Address: walletAddr}},
	})
	require.NoError(t, err)
	return w
}

func (f *fixture) addTransfer(hash, from, to string, value *big.Int, at time.Time) {
	f.account.AddTx(&provider.AccountTx{
		Hash: hash, Timestamp: at, From: from, To: to, Value: value, Success: true,
	}, from, to)
}

func TestSyncWalletTransactions(t *testing.T) {
	f := newFixture(t)
	w := f.createWallet(t, "treasury")
	f.addTransfer("0xa1", walletAddr, peerAddr, eth(1), t0)
	f.addTransfer("0xa2", peerAddr, walletAddr, eth(2), t0.Add(time.Minute))
	ctx := context.Background()

	res, err := f.tracker.SyncWalletTransactions(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Empty(t, res.ReconcileError)
	assert.Empty(t, res.FailedChains())

	stored, err := f.txs.ListByAddress(ctx, chains.Ethereum, walletAddr, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	res, err = f.tracker.SyncWalletTransactions(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted, "second sync must not insert duplicates")
}

func TestSyncReportsUnavailableChain(t *testing.T) {
	f := newFixture(t)
	w := f.createWallet(t, "")
	f.account.SetDown(true)

	res, err := f.tracker.SyncWalletTransactions(context.Background(), w.ID)
	require.NoError(t, err, "a failing chain is reported, not returned")
	assert.Equal(t, []chains.ID{chains.Ethereum}, res.FailedChains())
}

func TestUnknownWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.SyncWalletTransactions(ctx, "wal_missing")
	assert.True(t, errors.Is(err, wallet.ErrNotFound))
	_, err = f.tracker.AssessWalletRisk(ctx, "wal_missing")
	assert.True(t, errors.Is(err, wallet.ErrNotFound))
	_, err = f.tracker.RefreshBalances(ctx, "wal_missing")
	assert.True(t, errors.Is(err, wallet.ErrNotFound))
	_, err = f.tracker.GetWalletRisk(ctx, "wal_missing")
	assert.True(t, errors.Is(err, wallet.ErrNotFound))
}

func TestAssessWalletRisk(t *testing.T) {
	f := newFixture(t)
	w := f.createWallet(t, "desk")
	f.addTransfer("0xb1", walletAddr, peerAddr, eth(1), t0)
	ctx := context.Background()

	_, err := f.tracker.GetWalletRisk(ctx, w.ID)
	assert.True(t, errors.Is(err, risk.ErrNotFound), "no assessment before the first run")

	_, err = f.tracker.SyncWalletTransactions(ctx, w.ID)
	require.NoError(t, err)
	a, err := f.tracker.AssessWalletRisk(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, a.WalletID)
	assert.GreaterOrEqual(t, a.Score, 0.0)
	assert.LessOrEqual(t, a.Score, 100.0)

	got, err := f.tracker.Wallets.Get(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RiskScore)
	assert.Equal(t, a.Score, *got.RiskScore)
	assert.Equal(t, string(a.Level), got.RiskLevel)
	require.NotNil(t, got.LastAnalyzedAt)

	stored, err := f.tracker.GetWalletRisk(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Score, stored.Score)

	require.NotEmpty(t, f.hub.events)
	assert.Equal(t, realtime.EventRiskAssessed, f.hub.events[0].Type)
	assert.Equal(t, w.ID, f.hub.events[0].WalletID)
}

func TestGetHighRiskWallets(t *testing.T) {
	f := newFixture(t)
	w := f.createWallet(t, "mixer suspect")
	ctx := context.Background()

	for _, a := range []*risk.Assessment{
		{WalletID: w.ID, Score: 82, Level: risk.LevelCritical, Patterns: []risk.Pattern{{Kind: risk.PatternRoundTrip, Count: 2}}, AssessedAt: t0},
		{WalletID: "wal_gone", Score: 70, Level: risk.LevelHigh, AssessedAt: t0},
		{WalletID: "wal_quiet", Score: 10, Level: risk.LevelVeryLow, AssessedAt: t0},
	} {
		require.NoError(t, f.assessments.Save(ctx, a))
	}

	rows, err := f.tracker.GetHighRiskWallets(ctx, 60, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, w.ID, rows[0].WalletID)
	assert.Equal(t, "mixer suspect", rows[0].Label)
	assert.Equal(t, chains.Ethereum, rows[0].PrimaryChain)
	assert.Equal(t, []string{risk.PatternRoundTrip}, rows[0].Patterns)

	assert.Equal(t, "wal_gone", rows[1].WalletID)
	assert.Empty(t, rows[1].Label, "assessment without a wallet is still listed")
	assert.NotNil(t, rows[1].Patterns)
}

func TestRefreshBalances(t *testing.T) {
	f := newFixture(t)
	w := f.createWallet(t, "")
	f.account.SetBalance(walletAddr, eth(2))
	ctx := context.Background()

	_, err := f.tracker.GetBalances(ctx, w.ID)
	assert.True(t, errors.Is(err, balance.ErrNotFound))

	report, err := f.tracker.RefreshBalances(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, report.Snapshot.TotalUSD.Equal(decimal.NewFromInt(6000)), "total = %s", report.Snapshot.TotalUSD)

	got, err := f.tracker.Wallets.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalUSD.Equal(decimal.NewFromInt(6000)))
	require.NotNil(t, got.BalanceUpdatedAt)

	snap, err := f.tracker.GetBalances(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, snap.TotalUSD.Equal(report.Snapshot.TotalUSD))
}

func TestUpdateAllBalancesContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.createWallet(t, "a")
	f.createWallet(t, "b")
	f.tracker.pageSize = 1

	res, err := f.tracker.UpdateAllBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Zero(t, res.Failed)
}

func TestSyncAndAssess(t *testing.T) {
	f := newFixture(t)
	w := f.createWallet(t, "")
	f.addTransfer("0xc1", walletAddr, peerAddr, eth(1), t0)

	res, err := f.tracker.SyncAndAssess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	_, err = f.assessments.Get(context.Background(), w.ID)
	assert.NoError(t, err)
}

func TestChainHealth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.tracker.ChainHealth(ctx, chains.Ethereum)
	require.NoError(t, err)
	assert.True(t, h.Healthy)

	f.account.SetDown(true)
	h, err = f.tracker.ChainHealth(ctx, chains.Ethereum)
	require.NoError(t, err)
	assert.False(t, h.Healthy)

	_, err = f.tracker.ChainHealth(ctx, chains.ID("dogecoin"))
	assert.True(t, errors.Is(err, chains.ErrUnknownChain))
}

// ---- Worker ----

type countingJob struct {
	syncs    atomic.Int64
	balances atomic.Int64
	fail     bool
}

func (j *countingJob) SyncAndAssess(context.Context) (*BatchResult, error) {
	j.syncs.Add(1)
	if j.fail {
		return nil, errors.New("store down")
	}
	return &BatchResult{Processed: 1}, nil
}

func (j *countingJob) UpdateAllBalances(context.Context) (*BatchResult, error) {
	j.balances.Add(1)
	return &BatchResult{Processed: 1}, nil
}

func TestWorkerRunsPasses(t *testing.T) {
	job := &countingJob{}
	w := NewWorker(job, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Start(ctx)
	require.Eventually(t, func() bool { return w.Passes() >= 2 }, time.Second, time.Millisecond)
	assert.True(t, w.Running())
	assert.GreaterOrEqual(t, job.balances.Load(), int64(2))

	w.Stop()
	require.Eventually(t, func() bool { return !w.Running() }, time.Second, time.Millisecond)
}

func TestWorkerSkipsBalancesWhenSyncFails(t *testing.T) {
	job := &countingJob{fail: true}
	w := NewWorker(job, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	go w.Start(ctx)
	require.Eventually(t, func() bool { return w.Passes() >= 1 }, time.Second, time.Millisecond)
	cancel()
	require.Eventually(t, func() bool { return !w.Running() }, time.Second, time.Millisecond)
	assert.Zero(t, job.balances.Load())
}
