package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mbd888/chainwatch/internal/address"
	"github.com/mbd888/chainwatch/internal/bridge"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// Input is everything one assessment reads. Transactions may contain the
// same record more than once (one wallet address per chain each listing it);
// the engine deduplicates by (chain, hash).
type Input struct {
	WalletID     string
	Addresses    []transactions.Ref
	Transactions []*transactions.Transaction
	Transfers    []*bridge.Transfer
	Skipped      []Skip
}

// Engine scores wallets. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	cfg      Config
	families func(chains.ID) (chains.Family, error)
	known    func(string) bool
}

// NewEngine creates an engine. The registry decides chain families for
// address-reuse detection; the detector decides which protocol names are
// recognized.
func NewEngine(cfg Config, registry *chains.Registry, detector *bridge.Detector) *Engine {
	return &Engine{cfg: cfg, families: registry.Family, known: detector.KnownProtocol}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// ScoreTransaction computes the ingestion-time risk of a single transaction
// from local signals only.
func ScoreTransaction(cfg Config, tx *transactions.Transaction) int {
	w := cfg.Tx
	score := 0
	if tx.Failed() {
		score += w.Failed
	}
	if cfg.IsLarge(tx.Chain, tx.Value) {
		score += w.LargeValue
	}
	if tx.IsBridge {
		score += w.Bridge
	}
	if len(tx.Touched) > w.TouchedLimit {
		score += w.ManyTouched
	}
	if len(tx.TokenTransfers) > w.TokenLimit {
		score += w.ManyTokens
	}
	if tx.From == transactions.Unknown || tx.To == transactions.Unknown {
		score += w.UnknownParty
	}
	return clampInt(score)
}

// ScoreTransaction scores tx with the engine's configuration.
func (e *Engine) ScoreTransaction(tx *transactions.Transaction) int { return ScoreTransaction(e.cfg, tx) }

// ScoreTransfer scores a bridge transfer with the engine's configuration.
func (e *Engine) ScoreTransfer(t *bridge.Transfer) int {
	return bridge.ScoreTransfer(e.cfg.Transfer, t, e.known)
}

// Composite combines sub-scores into the overall score. It reads nothing
// else, so a stored assessment can always be re-derived from its sub-scores.
func Composite(w CompositeWeights, s SubScores) float64 {
	v := w.Chain*s.Chain + w.Bridge*s.Bridge + w.Reuse*s.Reuse + w.Timing*s.Timing
	return round2(clamp(v))
}

// Recompute re-derives the overall score and level of a stored assessment.
func (e *Engine) Recompute(a *Assessment) (float64, Level) {
	score := Composite(e.cfg.Composite, a.SubScores)
	return score, e.cfg.LevelFor(score)
}

// Analyze scores a wallet. now anchors every time window.
func (e *Engine) Analyze(in Input, now time.Time) *Assessment {
	txs := dedupe(in.Transactions)
	own := ownAddresses(in.Addresses)

	a := &Assessment{
		WalletID:        in.WalletID,
		Chains:          []ChainRisk{},
		BridgeFactors:   []string{},
		TimingFactors:   []string{},
		Connections:     []Connection{},
		Patterns:        []Pattern{},
		Recommendations: []string{},
		Skipped:         in.Skipped,
		AssessedAt:      now,
	}

	var weighted float64
	var total int
	for _, chain := range walletChains(in.Addresses) {
		cr := e.scoreChain(chain, byChain(txs, chain), own, now)
		a.Chains = append(a.Chains, cr)
		weighted += cr.Score * float64(cr.TransactionCount)
		total += cr.TransactionCount
	}
	if total > 0 {
		a.SubScores.Chain = round2(clamp(weighted / float64(total)))
	}

	a.SubScores.Bridge = e.scoreBridges(a, in.Transfers, now)
	a.SubScores.Reuse = e.scoreReuse(a, in.Addresses)
	a.SubScores.Timing = e.scoreTiming(a, txs)

	a.Score = Composite(e.cfg.Composite, a.SubScores)
	a.Level = e.cfg.LevelFor(a.Score)
	a.Recommendations = e.recommend(a)
	return a
}

// ---- Per-chain ----

func (e *Engine) scoreChain(chain chains.ID, txs []*transactions.Transaction, own map[string]bool, now time.Time) ChainRisk {
	cr := ChainRisk{Chain: chain, Factors: []string{}, TransactionCount: len(txs)}
	if len(txs) == 0 {
		return cr
	}
	w := e.cfg.Chain

	var recent, failed, large, bridges, riskSum int
	oldest, newest := txs[0].Timestamp, txs[0].Timestamp
	counterparties := make(map[string]bool)
	for _, tx := range txs {
		if !tx.Timestamp.After(now) && now.Sub(tx.Timestamp) < 24*time.Hour {
			recent++
		}
		if tx.Failed() {
			failed++
		}
		if e.cfg.IsLarge(chain, tx.Value) {
			large++
		}
		if tx.IsBridge {
			bridges++
		}
		riskSum += tx.RiskScore
		if tx.Timestamp.Before(oldest) {
			oldest = tx.Timestamp
		}
		if tx.Timestamp.After(newest) {
			newest = tx.Timestamp
		}
		if cp := counterparty(tx, own); cp != "" {
			counterparties[cp] = true
		}
	}
	n := float64(len(txs))
	last := newest
	cr.LastActivity = &last

	var score float64
	add := func(points int, format string, args ...any) {
		if points == 0 {
			return
		}
		score += float64(points)
		cr.Factors = append(cr.Factors, fmt.Sprintf(format, args...))
	}

	add(tierPoints(w.Count24h, float64(recent)), "%d transactions in the last 24h", recent)
	failedRatio := float64(failed) / n
	add(tierPoints(w.FailedRatio, failedRatio), "%.0f%% of transactions failed", failedRatio*100)
	add(tierPoints(w.LargeCount, float64(large)), "%d large-value transactions", large)
	bridgeRatio := float64(bridges) / n
	add(tierPoints(w.BridgeRatio, bridgeRatio), "%.0f%% of transactions are bridge transfers", bridgeRatio*100)
	add(tierPoints(w.Counterparties, float64(len(counterparties))), "%d unique counterparties", len(counterparties))

	age := now.Sub(oldest)
	for _, t := range w.YoungWallet {
		if age < t.MaxAge && len(txs) > t.MinTxs {
			add(t.Points, "%d transactions within %d days of first activity", len(txs), int(t.MaxAge.Hours()/24))
			break
		}
	}

	if mean := float64(riskSum) / n; mean > 0 {
		score += mean * w.MeanTxRisk
		cr.Factors = append(cr.Factors, fmt.Sprintf("average transaction risk %.1f", mean))
	}

	cr.Score = round2(clamp(score))
	return cr
}

func counterparty(tx *transactions.Transaction, own map[string]bool) string {
	from, to := strings.ToLower(tx.From), strings.ToLower(tx.To)
	var cp string
	switch {
	case own[from]:
		cp = to
	case own[to]:
		cp = from
	default:
		return ""
	}
	if cp == strings.ToLower(transactions.Unknown) || own[cp] {
		return ""
	}
	return cp
}

// ---- Bridge activity ----

func (e *Engine) scoreBridges(a *Assessment, transfers []*bridge.Transfer, now time.Time) float64 {
	if len(transfers) == 0 {
		return 0
	}
	w := e.cfg.Bridge
	ts := sortedTransfers(transfers)

	var score int
	add := func(points int, format string, args ...any) {
		if points == 0 {
			return
		}
		score += points
		a.BridgeFactors = append(a.BridgeFactors, fmt.Sprintf(format, args...))
	}

	recent := 0
	for _, t := range ts {
		if !t.InitiatedAt.After(now) && now.Sub(t.InitiatedAt) < 24*time.Hour {
			recent++
		}
	}
	add(tierPoints(w.Count24h, float64(recent)), "%d bridge transfers in the last 24h", recent)

	if pairs := roundTrips(ts, w.RoundTripWindow); pairs > 0 {
		add(w.RoundTrip, "%d round-trip bridge pairs", pairs)
		a.Patterns = append(a.Patterns, Pattern{
			Kind:        PatternRoundTrip,
			Description: fmt.Sprintf("value bridged out and back within %s", w.RoundTripWindow),
			Count:       pairs,
		})
	}

	largeUncommon := 0
	for _, t := range ts {
		if t.DestinationKnown() && !e.cfg.Transfer.IsCommonRoute(t.SourceChain, t.DestinationChain) &&
			t.ScoredAmount().GreaterThan(e.cfg.Transfer.LargeAmount) {
			largeUncommon++
		}
	}
	if largeUncommon > 0 {
		add(w.LargeUncommon, "%d large transfers over uncommon routes", largeUncommon)
	}

	failed, unresolved := 0, 0
	for _, t := range ts {
		if t.Status == bridge.StatusFailed {
			failed++
		}
		if !t.Status.Terminal() || !t.DestinationKnown() {
			unresolved++
		}
	}
	add(tierPoints(w.Failed, float64(failed)), "%d failed bridge transfers", failed)
	if unresolved > 0 {
		add(w.Unresolved, "%d bridge transfers pending or with unknown destination", unresolved)
	}

	if bursts := rapidWindows(ts, w.RapidWindow, w.RapidCount); bursts > 0 {
		add(w.Rapid, "%d bridge transfers within %s", w.RapidCount, w.RapidWindow)
		a.Patterns = append(a.Patterns, Pattern{
			Kind:        PatternRapidBridging,
			Description: fmt.Sprintf("%d or more bridge transfers within %s", w.RapidCount, w.RapidWindow),
			Count:       bursts,
		})
	}

	return round2(clamp(float64(score)))
}

func sortedTransfers(in []*bridge.Transfer) []*bridge.Transfer {
	out := make([]*bridge.Transfer, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].InitiatedAt.Equal(out[j].InitiatedAt) {
			return out[i].InitiatedAt.Before(out[j].InitiatedAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// roundTrips counts pairs where one transfer mirrors the other's route
// within the window. Transfers with an unknown destination cannot pair.
func roundTrips(ts []*bridge.Transfer, window time.Duration) int {
	n := 0
	for i := 0; i < len(ts); i++ {
		a := ts[i]
		if !a.DestinationKnown() {
			continue
		}
		for j := i + 1; j < len(ts); j++ {
			b := ts[j]
			if b.InitiatedAt.Sub(a.InitiatedAt) > window {
				break
			}
			if b.DestinationKnown() && a.SourceChain == b.DestinationChain && a.DestinationChain == b.SourceChain {
				n++
			}
		}
	}
	return n
}

// rapidWindows counts start positions i (in time order) where the next
// size-1 transfers all fall within window of ts[i].
func rapidWindows(ts []*bridge.Transfer, window time.Duration, size int) int {
	if size <= 0 {
		return 0
	}
	n := 0
	for i := 0; i+size-1 < len(ts); i++ {
		if ts[i+size-1].InitiatedAt.Sub(ts[i].InitiatedAt) <= window {
			n++
		}
	}
	return n
}

// ---- Address reuse ----

func (e *Engine) scoreReuse(a *Assessment, refs []transactions.Ref) float64 {
	byAddr := make(map[string][]chains.ID)
	display := make(map[string]string)
	for _, r := range refs {
		fam, err := e.families(r.Chain)
		if err != nil || fam != chains.AccountModel {
			continue
		}
		key, err := address.NormalizeFamily(r.Address, chains.AccountModel)
		if err != nil {
			key = strings.ToLower(r.Address)
		} else {
			key = strings.ToLower(key)
		}
		if !containsChain(byAddr[key], r.Chain) {
			byAddr[key] = append(byAddr[key], r.Chain)
		}
		if _, ok := display[key]; !ok {
			display[key] = r.Address
		}
	}

	keys := make([]string, 0, len(byAddr))
	for k := range byAddr {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := 0
	for _, k := range keys {
		ids := byAddr[k]
		if len(ids) < 2 {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		addr := display[k]
		if norm, err := address.NormalizeFamily(addr, chains.AccountModel); err == nil {
			addr = norm
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a.Connections = append(a.Connections, Connection{
					Kind:       PatternAddressReuse,
					ChainA:     ids[i],
					ChainB:     ids[j],
					Address:    addr,
					Confidence: e.cfg.Reuse.Confidence,
				})
				pairs++
			}
		}
	}
	if pairs == 0 {
		return 0
	}
	a.Patterns = append(a.Patterns, Pattern{
		Kind:        PatternAddressReuse,
		Description: "the same address is used on several account-model chains",
		Count:       pairs,
	})
	return round2(clamp(float64(e.cfg.Reuse.Points)))
}

func containsChain(ids []chains.ID, id chains.ID) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}

// ---- Timing ----

func (e *Engine) scoreTiming(a *Assessment, txs []*transactions.Transaction) float64 {
	if len(txs) < 2 {
		return 0
	}
	w := e.cfg.Timing
	sorted := sortedByTime(txs)

	var score int
	fire := func(count, threshold, points int, kind, desc string) {
		if threshold <= 0 || count < threshold {
			return
		}
		score += points
		a.TimingFactors = append(a.TimingFactors, fmt.Sprintf("%s (%d)", desc, count))
		a.Patterns = append(a.Patterns, Pattern{Kind: kind, Description: desc, Count: count})
	}

	fire(crossChainPairs(sorted, w.PairWindow), w.PairMin, w.Pair, PatternRapidCrossChain,
		fmt.Sprintf("transaction pairs on different chains within %s", w.PairWindow))
	fire(synchronized(sorted, w.SyncWindow, w.SyncOthers), w.SyncMin, w.Sync, PatternSynchronized,
		fmt.Sprintf("transactions with %d or more other-chain transactions within %s", w.SyncOthers, w.SyncWindow))
	fire(burstWindows(sorted, w.BurstWindow, w.BurstSize), w.BurstMin, w.Burst, PatternBurst,
		fmt.Sprintf("%s windows with %d or more transactions", w.BurstWindow, w.BurstSize))

	return round2(clamp(float64(score)))
}

func crossChainPairs(txs []*transactions.Transaction, window time.Duration) int {
	n := 0
	for i := range txs {
		for j := i + 1; j < len(txs) && txs[j].Timestamp.Sub(txs[i].Timestamp) <= window; j++ {
			if txs[j].Chain != txs[i].Chain {
				n++
			}
		}
	}
	return n
}

// synchronized counts transactions that have at least others transactions
// on other chains within ±window.
func synchronized(txs []*transactions.Transaction, window time.Duration, others int) int {
	n, lo := 0, 0
	for i, tx := range txs {
		for txs[lo].Timestamp.Before(tx.Timestamp.Add(-window)) {
			lo++
		}
		count := 0
		for j := lo; j < len(txs) && !txs[j].Timestamp.After(tx.Timestamp.Add(window)); j++ {
			if j != i && txs[j].Chain != tx.Chain {
				count++
			}
		}
		if count >= others {
			n++
		}
	}
	return n
}

// burstWindows counts windows anchored at each transaction that hold at
// least size transactions.
func burstWindows(txs []*transactions.Transaction, window time.Duration, size int) int {
	if size <= 0 {
		return 0
	}
	n, hi := 0, 0
	for i, tx := range txs {
		if hi < i {
			hi = i
		}
		for hi < len(txs) && txs[hi].Timestamp.Sub(tx.Timestamp) < window {
			hi++
		}
		if hi-i >= size {
			n++
		}
	}
	return n
}

// ---- Recommendations ----

func (e *Engine) recommend(a *Assessment) []string {
	out := []string{}
	switch a.Level {
	case LevelCritical:
		out = append(out, "Manual review required: overall risk is critical")
	case LevelHigh:
		out = append(out, "Place the wallet under enhanced monitoring")
	}
	if a.HasPattern(PatternAddressReuse) {
		out = append(out, "Track all linked chains: the same address is reused across chains")
	}
	if a.HasPattern(PatternRoundTrip) {
		out = append(out, "Investigate round-trip bridging for possible obfuscation")
	}
	if a.HasPattern(PatternRapidBridging) {
		out = append(out, "Review rapid successive bridge transfers")
	}
	if a.HasPattern(PatternRapidCrossChain) || a.HasPattern(PatternSynchronized) {
		out = append(out, "Check for coordinated activity across chains")
	}
	if a.HasPattern(PatternBurst) {
		out = append(out, "Check for automated transaction bursts")
	}
	for _, c := range a.Chains {
		if c.Score >= e.cfg.Levels.High {
			out = append(out, fmt.Sprintf("Review recent activity on %s", c.Chain))
		}
	}
	for _, s := range a.Skipped {
		out = append(out, fmt.Sprintf("Re-sync %s: it was skipped in this assessment", s.Chain))
	}
	return out
}

// ---- Helpers ----

func dedupe(txs []*transactions.Transaction) []*transactions.Transaction {
	seen := make(map[string]bool, len(txs))
	out := make([]*transactions.Transaction, 0, len(txs))
	for _, tx := range txs {
		if seen[tx.Key()] {
			continue
		}
		seen[tx.Key()] = true
		out = append(out, tx)
	}
	return out
}

func sortedByTime(txs []*transactions.Transaction) []*transactions.Transaction {
	out := make([]*transactions.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

func byChain(txs []*transactions.Transaction, chain chains.ID) []*transactions.Transaction {
	var out []*transactions.Transaction
	for _, tx := range txs {
		if tx.Chain == chain {
			out = append(out, tx)
		}
	}
	return out
}

// walletChains returns the distinct chains of refs in sorted order.
func walletChains(refs []transactions.Ref) []chains.ID {
	var out []chains.ID
	for _, r := range refs {
		if !containsChain(out, r.Chain) {
			out = append(out, r.Chain)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ownAddresses(refs []transactions.Ref) map[string]bool {
	out := make(map[string]bool, len(refs))
	for _, r := range refs {
		out[strings.ToLower(r.Address)] = true
	}
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampInt(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
