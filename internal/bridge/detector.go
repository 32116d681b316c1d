// Package bridge classifies transactions as bridge traffic, scores bridge
// transfers and tracks their lifecycle from initiation to completion.
package bridge

import (
	"sort"
	"strings"

	"github.com/mbd888/chainwatch/internal/chains"
)

// Evidence is what the detector looks at. Ingestion fills it from the parsed
// chain-native transaction.
type Evidence struct {
	Chain       chains.ID
	Family      chains.Family
	To          string   // direct recipient (account-model)
	LogEmitters []string // addresses that emitted receipt logs (account-model)
	ProgramIDs  []string // invoked programs (instruction-model)
}

// Classification is the detector's verdict.
type Classification struct {
	IsBridge         bool      `json:"isBridge"`
	Protocol         string    `json:"protocol,omitempty"`
	SourceChain      chains.ID `json:"sourceChain"`
	DestinationChain chains.ID `json:"destinationChain,omitempty"`
}

type match struct {
	protocol    string
	destination chains.ID
}

// Detector matches evidence against a static protocol table. It never
// guesses: anything not in the table is not a bridge.
type Detector struct {
	index map[chains.ID]map[string]match
	names map[string]bool
}

// NewDetector indexes the given protocols. When two protocols claim the same
// identifier on a chain, the first one listed wins.
func NewDetector(protocols []Protocol) *Detector {
	d := &Detector{
		index: make(map[chains.ID]map[string]match),
		names: make(map[string]bool, len(protocols)),
	}
	for _, p := range protocols {
		d.names[p.Name] = true
		// iterate chains in a fixed order so collisions resolve the same way every run
		ids := make([]string, 0, len(p.Contracts))
		for c := range p.Contracts {
			ids = append(ids, string(c))
		}
		sort.Strings(ids)
		for _, id := range ids {
			chain := chains.ID(id)
			if d.index[chain] == nil {
				d.index[chain] = make(map[string]match)
			}
			for _, addr := range p.Contracts[chain] {
				key := indexKey(addr)
				if _, taken := d.index[chain][key]; taken {
					continue
				}
				d.index[chain][key] = match{protocol: p.Name, destination: p.Destinations[chain]}
			}
		}
	}
	return d
}

// DefaultDetector uses DefaultProtocols.
func DefaultDetector() *Detector { return NewDetector(DefaultProtocols()) }

// KnownProtocol reports whether name is in the protocol table.
func (d *Detector) KnownProtocol(name string) bool { return d.names[name] }

// Classify checks the direct recipient first, then log emitters, then
// program ids. The first hit decides the protocol.
func (d *Detector) Classify(ev Evidence) Classification {
	out := Classification{SourceChain: ev.Chain}
	table := d.index[ev.Chain]
	if len(table) == 0 {
		return out
	}

	var candidates []string
	if ev.Family == chains.InstructionModel {
		candidates = ev.ProgramIDs
	} else {
		candidates = append([]string{ev.To}, ev.LogEmitters...)
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if m, ok := table[indexKey(c)]; ok {
			out.IsBridge = true
			out.Protocol = m.protocol
			out.DestinationChain = m.destination
			return out
		}
	}
	return out
}

// Account-model identifiers are hex and compared case-insensitively;
// base58 program ids are case-sensitive and never start with 0x.
func indexKey(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strings.ToLower(s)
	}
	return s
}
