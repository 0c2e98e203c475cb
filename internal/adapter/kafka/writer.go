package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkarhu/gridmerge/internal/config"
	"github.com/mkarhu/gridmerge/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher produces grouped location forecasts to a Kafka topic.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishGroups serializes and publishes the grouped table in a single
// WriteMessages call so the batch either lands or fails together.
func (p *Publisher) PublishGroups(ctx context.Context, groups []domain.LocationGroup) error {
	if len(groups) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(groups))
	for i := range groups {
		msg, err := serializeToMessage(groups[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish groups: %w", err)
	}
	p.logger.Info("published location groups", "count", len(groups))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// groupPayload is the wire form of a LocationGroup.
type groupPayload struct {
	ForecastTime string                  `json:"forecast_time"`
	Latitude     float64                 `json:"latitude"`
	Longitude    float64                 `json:"longitude"`
	Population   float64                 `json:"population"`
	Forecasts    []domain.ForecastSample `json:"forecasts"`
}

// serializeToMessage marshals a LocationGroup into a Kafka message keyed by
// its grid cell so one location always lands on the same partition.
func serializeToMessage(group domain.LocationGroup) (kafkago.Message, error) {
	payload := groupPayload{
		ForecastTime: group.Time,
		Latitude:     group.Lat,
		Longitude:    group.Lon,
		Population:   group.Population,
		Forecasts:    group.Samples,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize location group: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(domain.FormatFloat(group.Lat) + "," + domain.FormatFloat(group.Lon)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "record_count", Value: []byte(fmt.Sprintf("%d", len(group.Samples)))},
			{Key: "published_at", Value: []byte(domain.Now().UTC().Format(time.RFC3339))},
		},
	}, nil
}
