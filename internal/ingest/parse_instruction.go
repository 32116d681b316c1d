package ingest

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/bridge"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/provider"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// ParseInstruction converts an instruction-model transaction into the
// canonical form. There is no sender or receiver field, so the net native
// transfer is inferred from balance deltas: the largest decrease is "from"
// and the largest increase among the other accounts is "to".
//
// When the tracked address has no native delta the record is still kept. If
// it moved tokens, the token parties are used; otherwise from and to are
// transactions.Unknown with value 0.
func ParseInstruction(cfg chains.Config, raw *provider.InstructionTx, tracked string) (*Parsed, error) {
	if raw == nil || raw.Signature == "" {
		return nil, parseErrorf("missing signature")
	}
	n := len(raw.AccountKeys)
	if len(raw.PreBalances) != n || len(raw.PostBalances) != n {
		return nil, parseErrorf("tx %s: %d account keys but %d/%d balances",
			raw.Signature, n, len(raw.PreBalances), len(raw.PostBalances))
	}

	deltas := make([]*big.Int, n)
	from, to := -1, -1
	for i := range raw.AccountKeys {
		d := new(big.Int).SetUint64(raw.PostBalances[i])
		d.Sub(d, new(big.Int).SetUint64(raw.PreBalances[i]))
		deltas[i] = d
		if d.Sign() < 0 && (from < 0 || d.Cmp(deltas[from]) < 0) {
			from = i
		}
	}
	for i, d := range deltas {
		if i == from || d.Sign() <= 0 {
			continue
		}
		if to < 0 || d.Cmp(deltas[to]) > 0 {
			to = i
		}
	}

	tokens, err := tokenTransfers(cfg, raw)
	if err != nil {
		return nil, err
	}

	tx := &transactions.Transaction{
		Chain:          cfg.ID,
		Hash:           raw.Signature,
		Block:          raw.Slot,
		Timestamp:      raw.BlockTime.UTC(),
		From:           transactions.Unknown,
		To:             transactions.Unknown,
		Value:          decimal.Zero,
		Status:         transactions.StatusSuccess,
		TokenTransfers: tokens,
	}
	if raw.Failed {
		tx.Status = transactions.StatusFailed
	}

	touched := newAddrSet(false)
	trackedMoved := false
	for i, key := range raw.AccountKeys {
		if deltas[i].Sign() == 0 {
			continue
		}
		touched.add(key)
		if key == tracked {
			trackedMoved = true
		}
	}

	switch {
	case trackedMoved || tracked == "":
		if from >= 0 {
			tx.From = raw.AccountKeys[from]
		}
		if to >= 0 {
			tx.To = raw.AccountKeys[to]
			tx.Value = decimal.NewFromBigInt(deltas[to], -cfg.NativeDecimals)
		}
	default:
		for _, tt := range tokens {
			if tt.From == tracked || tt.To == tracked {
				tx.From, tx.To = tt.From, tt.To
				break
			}
		}
	}

	for _, tt := range tokens {
		touched.add(tt.From)
		touched.add(tt.To)
	}
	touched.add(tracked)
	tx.Touched = touched.list()

	ev := bridge.Evidence{
		Chain:      cfg.ID,
		Family:     cfg.Family,
		ProgramIDs: append([]string(nil), raw.ProgramIDs...),
	}
	return &Parsed{Tx: tx, Evidence: ev}, nil
}

type tokenDelta struct {
	owner    string
	delta    *big.Int
	decimals int32
}

// tokenTransfers diffs pre/post token balances per mint and reports one
// transfer per mint from the largest decrease to the largest increase.
func tokenTransfers(cfg chains.Config, raw *provider.InstructionTx) ([]transactions.TokenTransfer, error) {
	type slot struct {
		mint     string
		owner    string
		decimals int32
		pre      *big.Int
		post     *big.Int
	}
	slots := make(map[int]*slot)
	load := func(changes []provider.TokenBalanceChange, post bool) error {
		for _, c := range changes {
			if c.AccountIndex < 0 || c.AccountIndex >= len(raw.AccountKeys) {
				return parseErrorf("tx %s: token balance index %d out of range", raw.Signature, c.AccountIndex)
			}
			s, ok := slots[c.AccountIndex]
			if !ok {
				s = &slot{mint: c.Mint, owner: c.Owner, decimals: c.Decimals, pre: new(big.Int), post: new(big.Int)}
				slots[c.AccountIndex] = s
			}
			if s.owner == "" {
				s.owner = c.Owner
			}
			amount := c.Amount
			if amount == nil {
				amount = new(big.Int)
			}
			if post {
				s.post = new(big.Int).Set(amount)
			} else {
				s.pre = new(big.Int).Set(amount)
			}
		}
		return nil
	}
	if err := load(raw.PreTokens, false); err != nil {
		return nil, err
	}
	if err := load(raw.PostTokens, true); err != nil {
		return nil, err
	}

	byMint := make(map[string][]tokenDelta)
	for _, s := range slots {
		d := new(big.Int).Sub(s.post, s.pre)
		if d.Sign() == 0 {
			continue
		}
		owner := s.owner
		if owner == "" {
			owner = transactions.Unknown
		}
		byMint[s.mint] = append(byMint[s.mint], tokenDelta{owner: owner, delta: d, decimals: s.decimals})
	}

	mints := make([]string, 0, len(byMint))
	for m := range byMint {
		mints = append(mints, m)
	}
	sort.Strings(mints)

	var out []transactions.TokenTransfer
	for _, mint := range mints {
		ds := byMint[mint]
		// map iteration above is unordered; fix the order before picking extremes
		sort.Slice(ds, func(i, j int) bool {
			if c := ds[i].delta.Cmp(ds[j].delta); c != 0 {
				return c < 0
			}
			return ds[i].owner < ds[j].owner
		})
		lo, hi := ds[0], ds[len(ds)-1]

		tt := transactions.TokenTransfer{Token: mint, From: transactions.Unknown, To: transactions.Unknown}
		amount := new(big.Int)
		decimals := hi.decimals
		if lo.delta.Sign() < 0 {
			tt.From = lo.owner
			amount.Neg(lo.delta)
			decimals = lo.decimals
		}
		if hi.delta.Sign() > 0 {
			tt.To = hi.owner
			amount.Set(hi.delta)
			decimals = hi.decimals
		}
		if tok, ok := cfg.TokenByAddress(mint); ok {
			tt.Symbol = tok.Symbol
		}
		tt.Decimals = decimals
		tt.Amount = decimal.NewFromBigInt(amount, -decimals)
		out = append(out, tt)
	}
	return out, nil
}
