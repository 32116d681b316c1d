package chains

import (
	"errors"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	r := MustDefaultRegistry()
	if len(r.IDs()) != 8 {
		t.Fatalf("expected 8 default chains, got %d", len(r.IDs()))
	}
	fam, err := r.Family(Solana)
	if err != nil {
		t.Fatal(err)
	}
	if fam != InstructionModel {
		t.Errorf("solana family = %s, want %s", fam, InstructionModel)
	}
	eth, _ := r.Get(Ethereum)
	if !eth.IsAccountModel() {
		t.Error("ethereum should be account-model")
	}
}

func TestGetUnknownChain(t *testing.T) {
	r := MustDefaultRegistry()
	if _, err := r.Get("dogechain"); !errors.Is(err, ErrUnknownChain) {
		t.Errorf("expected ErrUnknownChain, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := MustDefaultRegistry()
	c, _ := r.Get(Ethereum)
	c.FallbackURLs[0] = "http://mutated"
	c.RPCURL = "http://mutated"

	again, _ := r.Get(Ethereum)
	if again.RPCURL == "http://mutated" || again.FallbackURLs[0] == "http://mutated" {
		t.Error("registry state was mutated through a returned config")
	}
}

func TestPromoteReplacesActiveURL(t *testing.T) {
	r, err := NewRegistry([]Config{{
		ID: "test", Family: AccountModel, RPCURL: "http://a",
		FallbackURLs: []string{"http://b", "http://c"}, NativeSymbol: "ETH",
	}})
	if err != nil {
		t.Fatal(err)
	}
	before, _ := r.Get("test")

	if err := r.Promote("test", "http://c"); err != nil {
		t.Fatal(err)
	}
	after, _ := r.Get("test")
	if after.RPCURL != "http://c" {
		t.Errorf("active url = %s, want http://c", after.RPCURL)
	}
	want := []string{"http://b", "http://a"}
	if len(after.FallbackURLs) != 2 || after.FallbackURLs[0] != want[0] || after.FallbackURLs[1] != want[1] {
		t.Errorf("fallbacks = %v, want %v", after.FallbackURLs, want)
	}
	if before.RPCURL != "http://a" {
		t.Error("previously returned config changed after promotion")
	}
}

func TestNewRegistryRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		cfgs []Config
	}{
		{"missing rpc", []Config{{ID: "x", Family: AccountModel, NativeSymbol: "X"}}},
		{"bad family", []Config{{ID: "x", Family: "utxo", RPCURL: "http://x", NativeSymbol: "X"}}},
		{"duplicate", []Config{
			{ID: "x", Family: AccountModel, RPCURL: "http://x", NativeSymbol: "X"},
			{ID: "x", Family: AccountModel, RPCURL: "http://y", NativeSymbol: "X"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.cfgs); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTokenByAddressCaseInsensitive(t *testing.T) {
	r := MustDefaultRegistry()
	eth, _ := r.Get(Ethereum)
	tok, ok := eth.TokenByAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	if !ok || tok.Symbol != "USDC" {
		t.Errorf("expected USDC, got %+v (found=%v)", tok, ok)
	}
}
