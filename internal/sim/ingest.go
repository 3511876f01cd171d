package sim

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kevyamon/yely-go/internal/models"
)

// LocationIngest streams driver location updates to Kafka so an external
// pipeline (see cmd/locationsink) can hydrate the presence store out of
// process. Optional: when no brokers are configured the simulator updates
// the store inline.
type LocationIngest struct {
	writer *kafka.Writer
}

func NewLocationIngest(brokers []string, topic string) *LocationIngest {
	if len(brokers) == 0 {
		return nil
	}
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &LocationIngest{writer: w}
}

// Publish is best-effort with a short deadline; a dropped update is
// superseded by the driver's next tick.
func (k *LocationIngest) Publish(upd models.LocationUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(upd.UserID), Value: b})
}

func (k *LocationIngest) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
