package redisstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"chargehub/backend/services/ocpp-server/internal/models"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	default:
		return redis.NewStatusResult("", errors.New("unsupported value"))
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeRedis) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := f.data[k]; ok {
			out[i] = v
		}
	}
	return redis.NewSliceResult(out, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestStoreKeysByTransactionNumberWithTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	store := NewStore(client, 12*time.Hour)
	account := int64(9)
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	err := store.Save(ctx, &models.Session{
		ID:                4,
		TransactionNumber: 1001,
		ChargePointID:     "CP-1",
		ConnectorID:       2,
		AccountID:         &account,
		Funding:           models.CardFunded("RFID-1"),
		StartTime:         &started,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl, ok := client.ttls["sessions:active:1001"]; !ok || ttl != 12*time.Hour {
		t.Fatalf("expected key sessions:active:1001 with ttl, got %v", client.ttls)
	}

	got, err := store.Get(ctx, 1001)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SessionID != 4 || got.AccountID != 9 || got.ChargePointID != "CP-1" || got.Funding != models.FundingCard {
		t.Fatalf("unexpected cached session %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("start time not kept: %+v", got.StartedAt)
	}

	if err := store.Delete(ctx, 1001); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, 1001); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreListSkipsForeignAndCorruptKeys(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	store := NewStore(client, 0)

	for _, s := range []models.Session{
		{ID: 7, TransactionNumber: 70, ChargePointID: "CP-2"},
		{ID: 3, TransactionNumber: 30, ChargePointID: "CP-1"},
	} {
		if err := store.Save(ctx, &s); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	client.data["sessions:active:99"] = "{not json"
	client.data["other:key"] = `{"session_id":1}`

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].SessionID != 3 || list[1].SessionID != 7 {
		t.Fatalf("unexpected list %+v", list)
	}
}
