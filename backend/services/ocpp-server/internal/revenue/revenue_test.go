package revenue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"chargehub/backend/services/ocpp-server/internal/models"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

type fakeRecorder struct {
	rows []models.Revenue
	err  error
}

func (f *fakeRecorder) Record(_ context.Context, rev models.Revenue) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rev)
	return nil
}

func sample() models.Revenue {
	return models.Revenue{
		SessionID:     42,
		AccountID:     7,
		ChargePointID: "CP-1",
		Funding:       models.FundingCard,
		EnergyKWh:     decimal.RequireFromString("3.5"),
		Amount:        decimal.RequireFromString("35"),
		Status:        "completed",
		CreatedAt:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaSinkPublishesKeyedBySession(t *testing.T) {
	writer := &fakeWriter{}
	sink, err := NewKafkaSink(writer)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.Record(context.Background(), sample()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(writer.msgs) != 1 || string(writer.msgs[0].Key) != "42" {
		t.Fatalf("unexpected messages %+v", writer.msgs)
	}
	var got models.Revenue
	if err := json.Unmarshal(writer.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Amount.Equal(decimal.NewFromInt(35)) || got.Funding != models.FundingCard {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestMultiPrimaryErrorWinsMirrorErrorLogged(t *testing.T) {
	primary, mirror := &fakeRecorder{}, &fakeRecorder{err: errors.New("broker down")}
	m := NewMulti(nil, primary, mirror)
	if err := m.Record(context.Background(), sample()); err != nil {
		t.Fatalf("mirror failure must not surface: %v", err)
	}
	if len(primary.rows) != 1 {
		t.Fatalf("primary not written")
	}

	failing := &fakeRecorder{err: errors.New("db down")}
	after := &fakeRecorder{}
	if err := NewMulti(nil, failing, after).Record(context.Background(), sample()); err == nil {
		t.Fatalf("expected primary error")
	}
	if len(after.rows) != 0 {
		t.Fatalf("mirrors must not run when the primary fails")
	}
}
