package prices

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func TestStatic(t *testing.T) {
	s := Static{"ETH": decimal.NewFromInt(3000)}
	got, err := s.GetPrices(context.Background(), []string{"eth", "DOGE"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got["ETH"].Equal(decimal.NewFromInt(3000)) {
		t.Errorf("got %v, want only ETH=3000", got)
	}
}

func TestHTTPSource(t *testing.T) {
	var calls atomic.Int64
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if r.URL.Path != "/simple/price" || r.URL.Query().Get("vs_currencies") != "usd" {
			t.Errorf("unexpected request %s", r.URL)
		}
		_, _ = w.Write([]byte(`{"ethereum":{"usd":3012.55},"solana":{"usd":142.1}}`))
	}))
	defer srv.Close()
	ctx := context.Background()

	src := NewHTTPSource(srv.URL, nil, time.Minute)
	got, err := src.GetPrices(ctx, []string{"ETH", "SOL", "NOPE"})
	if err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if !got["ETH"].Equal(decimal.RequireFromString("3012.55")) || !got["SOL"].Equal(decimal.RequireFromString("142.1")) {
		t.Errorf("got %v", got)
	}
	if _, ok := got["NOPE"]; ok {
		t.Error("unknown symbol must be absent")
	}

	// cached within ttl
	if _, err := src.GetPrices(ctx, []string{"ETH"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	// stale quotes are served when the API fails
	expired := NewHTTPSource(srv.URL, nil, 0)
	if _, err := expired.GetPrices(ctx, []string{"ETH"}); err != nil {
		t.Fatal(err)
	}
	fail.Store(true)
	got, err = expired.GetPrices(ctx, []string{"ETH"})
	if err == nil {
		t.Error("expected an error from the failing API")
	}
	if !got["ETH"].Equal(decimal.RequireFromString("3012.55")) {
		t.Errorf("stale ETH = %v, want last known price", got["ETH"])
	}
}

type fakeKV struct {
	mu     sync.Mutex
	data   map[string]string
	down   bool
	writes int
}

func (f *fakeKV) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewSliceResult(nil, errors.New("connection refused"))
	}
	vals := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := f.data[k]; ok {
			vals[i] = v
		}
	}
	return redis.NewSliceResult(vals, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStatusResult("", errors.New("connection refused"))
	}
	f.data[key] = value.(string)
	f.writes++
	return redis.NewStatusResult("OK", nil)
}

type countingSource struct {
	Static
	asked [][]string
}

func (c *countingSource) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	c.asked = append(c.asked, append([]string(nil), symbols...))
	return c.Static.GetPrices(ctx, symbols)
}

func TestRedisCache(t *testing.T) {
	kv := &fakeKV{data: map[string]string{"chainwatch:price:SOL": "150"}}
	next := &countingSource{Static: Static{"ETH": decimal.NewFromInt(3000), "SOL": decimal.NewFromInt(999)}}
	cache := NewRedisCache(kv, next, time.Minute, nil)
	ctx := context.Background()

	got, err := cache.GetPrices(ctx, []string{"ETH", "SOL", "ETH"})
	if err != nil {
		t.Fatal(err)
	}
	if !got["SOL"].Equal(decimal.NewFromInt(150)) {
		t.Errorf("SOL = %s, want cached 150", got["SOL"])
	}
	if !got["ETH"].Equal(decimal.NewFromInt(3000)) {
		t.Errorf("ETH = %s, want 3000", got["ETH"])
	}
	if len(next.asked) != 1 || len(next.asked[0]) != 1 || next.asked[0][0] != "ETH" {
		t.Errorf("next asked %v, want only the miss", next.asked)
	}
	if kv.data["chainwatch:price:ETH"] != "3000" {
		t.Errorf("ETH not written back: %v", kv.data)
	}

	// a Redis outage falls through to the wrapped source
	kv.down = true
	got, err = cache.GetPrices(ctx, []string{"SOL"})
	if err != nil {
		t.Fatal(err)
	}
	if !got["SOL"].Equal(decimal.NewFromInt(999)) {
		t.Errorf("SOL = %s, want upstream 999", got["SOL"])
	}
}
