package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"chargehub/backend/services/ocpp-server/internal/models"
)

const keyPrefix = "sessions:active:"

// ActiveSession stored in redis for quick access by transaction number.
type ActiveSession struct {
	SessionID         int64                `json:"session_id"`
	TransactionNumber int                  `json:"transaction_number"`
	ChargePointID     string               `json:"charge_point_id"`
	ConnectorID       int                  `json:"connector_id"`
	AccountID         int64                `json:"account_id,omitempty"`
	Funding           models.FundingSource `json:"funding"`
	StartedAt         *time.Time           `json:"started_at,omitempty"`
}

// Client is the subset of go-redis commands the store issues. *redis.Client satisfies it.
type Client interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store manages the active session cache.
type Store struct {
	client Client
	ttl    time.Duration
}

// NewStore returns redis-backed store. A zero ttl keeps keys until deleted.
func NewStore(client Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(transactionNumber int) string {
	return fmt.Sprintf("%s%d", keyPrefix, transactionNumber)
}

// Save caches session.
func (s *Store) Save(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(ActiveSession{
		SessionID:         session.ID,
		TransactionNumber: session.TransactionNumber,
		ChargePointID:     session.ChargePointID,
		ConnectorID:       session.ConnectorID,
		AccountID:         session.Account(),
		Funding:           session.Funding.Source,
		StartedAt:         session.StartTime,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(session.TransactionNumber), data, s.ttl).Err()
}

// Get returns cached session.
func (s *Store) Get(ctx context.Context, transactionNumber int) (*ActiveSession, error) {
	result, err := s.client.Get(ctx, s.key(transactionNumber)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var session ActiveSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// List scans every cached session, ordered by session id.
func (s *Store) List(ctx context.Context) ([]ActiveSession, error) {
	var (
		out    []ActiveSession
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, err
			}
			for _, v := range values {
				raw, ok := v.(string)
				if !ok {
					continue
				}
				var session ActiveSession
				if err := json.Unmarshal([]byte(raw), &session); err != nil {
					continue
				}
				out = append(out, session)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Delete removes cached session.
func (s *Store) Delete(ctx context.Context, transactionNumber int) error {
	return s.client.Del(ctx, s.key(transactionNumber)).Err()
}
