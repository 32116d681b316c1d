package ingest

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/bridge"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/provider"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// transferTopic is topic0 of the ERC-20 Transfer event.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ParseAccount converts an account-model transaction and its receipt into the
// canonical form. Hashes and addresses are stored lowercase.
func ParseAccount(cfg chains.Config, raw *provider.AccountTx, tracked string) (*Parsed, error) {
	if raw == nil || raw.Hash == "" {
		return nil, parseErrorf("missing transaction hash")
	}
	if !common.IsHexAddress(raw.From) {
		return nil, parseErrorf("tx %s: invalid sender %q", raw.Hash, raw.From)
	}
	if raw.To != "" && !common.IsHexAddress(raw.To) {
		return nil, parseErrorf("tx %s: invalid recipient %q", raw.Hash, raw.To)
	}
	value := raw.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return nil, parseErrorf("tx %s: negative value", raw.Hash)
	}

	tx := &transactions.Transaction{
		Chain:     cfg.ID,
		Hash:      strings.ToLower(raw.Hash),
		Block:     raw.Block,
		Timestamp: raw.Timestamp.UTC(),
		From:      strings.ToLower(raw.From),
		To:        strings.ToLower(raw.To),
		Value:     decimal.NewFromBigInt(value, -cfg.NativeDecimals),
		Status:    transactions.StatusSuccess,
	}
	if !raw.Success {
		tx.Status = transactions.StatusFailed
	}

	ev := bridge.Evidence{Chain: cfg.ID, Family: cfg.Family, To: tx.To}
	touched := newAddrSet(true)
	touched.add(tx.From)
	touched.add(tx.To)

	for i, lg := range raw.Logs {
		if lg == nil {
			continue
		}
		ev.LogEmitters = append(ev.LogEmitters, strings.ToLower(lg.Address.Hex()))

		if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue // ERC-721 transfers carry a fourth topic
		}
		if len(lg.Data) != 32 {
			return nil, parseErrorf("tx %s: transfer log %d: data length %d", raw.Hash, i, len(lg.Data))
		}

		tt := transactions.TokenTransfer{
			Token: strings.ToLower(lg.Address.Hex()),
			From:  strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
			To:    strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex()),
		}
		amount := new(big.Int).SetBytes(lg.Data)
		if tok, ok := cfg.TokenByAddress(tt.Token); ok {
			tt.Symbol = tok.Symbol
			tt.Decimals = tok.Decimals
			tt.Amount = decimal.NewFromBigInt(amount, -tok.Decimals)
		} else {
			tt.Amount = decimal.NewFromBigInt(amount, 0)
		}
		tx.TokenTransfers = append(tx.TokenTransfers, tt)
		touched.add(tt.From)
		touched.add(tt.To)
	}

	touched.add(tracked)
	tx.Touched = touched.list()
	return &Parsed{Tx: tx, Evidence: ev}, nil
}

// addrSet keeps first-seen order and drops empties and duplicates.
type addrSet struct {
	fold  bool
	seen  map[string]bool
	order []string
}

func newAddrSet(fold bool) *addrSet {
	return &addrSet{fold: fold, seen: make(map[string]bool)}
}

func (s *addrSet) add(a string) {
	if a == "" || a == transactions.Unknown {
		return
	}
	if s.fold {
		a = strings.ToLower(a)
	}
	if s.seen[a] {
		return
	}
	s.seen[a] = true
	s.order = append(s.order, a)
}

func (s *addrSet) list() []string { return s.order }
