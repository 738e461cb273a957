package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chargehub/backend/services/ocpp-server/internal/models"
)

const collectionOCPPMessages = "ocpp_messages"

// MongoMessageLog archives raw OCPP frames in a Mongo collection.
type MongoMessageLog struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoMessageLog connects to uri and verifies the server answers.
func NewMongoMessageLog(ctx context.Context, uri, database string) (*MongoMessageLog, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &MongoMessageLog{
		client:     client,
		collection: client.Database(database).Collection(collectionOCPPMessages),
	}, nil
}

// Save stores log entry.
func (m *MongoMessageLog) Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error {
	_, err := m.collection.InsertOne(ctx, models.OCPPMessage{
		StationID:   stationID,
		Direction:   direction,
		MessageType: messageType,
		Payload:     string(payload),
		CreatedAt:   time.Now().UTC(),
	})
	return err
}

// Recent returns the latest frames of a station, newest first.
func (m *MongoMessageLog) Recent(ctx context.Context, stationID string, limit int) ([]models.OCPPMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: -1}}).SetLimit(int64(limit))
	cursor, err := m.collection.Find(ctx, bson.D{{Key: "station_id", Value: stationID}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []models.OCPPMessage
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close disconnects the client.
func (m *MongoMessageLog) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
