package models

import "time"

// OCPPMessage is one archived frame.
type OCPPMessage struct {
	StationID   string    `json:"stationId" bson:"station_id"`
	Direction   string    `json:"direction" bson:"direction"`
	MessageType string    `json:"messageType" bson:"message_type"`
	Payload     string    `json:"payload" bson:"payload"`
	CreatedAt   time.Time `json:"createdAt" bson:"time"`
}
