package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// LocationUpdate is the message shape on the driver-locations topic. The
// consumer binary folds these into the Redis GEO index.
type LocationUpdate struct {
	DriverID     int64   `json:"driver_id"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	VehicleClass string  `json:"vehicle_class,omitempty"`
	Rating       float64 `json:"rating,omitempty"`
	Available    bool    `json:"available"`
	Verified     bool    `json:"verified"`
	Active       bool    `json:"active"`
	Availability string  `json:"availability,omitempty"`
	RecordedAt   int64   `json:"recorded_at"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishLocation(u LocationUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if u.RecordedAt == 0 {
		u.RecordedAt = time.Now().UnixMilli()
	}
	b, _ := json.Marshal(u)
	key := []byte(strconv.FormatInt(u.DriverID, 10))
	return k.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
