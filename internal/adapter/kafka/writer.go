package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/config"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
)

// publishChunk bounds the messages handed to one WriteMessages call.
const publishChunk = 500

// Publisher produces geocoded address rows to a Kafka topic.
// It implements pipeline.Publisher.
type Publisher struct {
	writer *kafkago.Writer
	now    func() time.Time
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured geocoded-address topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, now: time.Now, logger: logger}
}

// PublishYear serializes and publishes every geocoded row of a year. Rows are keyed by
// year and correlation id so reruns land on the same partition.
func (p *Publisher) PublishYear(ctx context.Context, year int, results []domain.GeocodeResult) error {
	if len(results) == 0 {
		return nil
	}
	publishedAt := p.now().UTC()

	msgs := make([]kafkago.Message, len(results))
	for i := range results {
		msg, err := serializeToMessage(year, results[i], publishedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}

	for start := 0; start < len(msgs); start += publishChunk {
		end := min(start+publishChunk, len(msgs))
		if err := p.writer.WriteMessages(ctx, msgs[start:end]...); err != nil {
			return fmt.Errorf("publish year %d: %w", year, err)
		}
	}
	p.logger.Info("geocoded rows published", "year", year, "rows", len(msgs), "topic", p.writer.Topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// addressMessage is the JSON value of one published row.
type addressMessage struct {
	Year        int      `json:"year"`
	ID          string   `json:"id"`
	Address     string   `json:"address"`
	Match       bool     `json:"match"`
	MatchType   string   `json:"match_type,omitempty"`
	Parsed      string   `json:"parsed,omitempty"`
	TigerLineID string   `json:"tiger_line_id,omitempty"`
	Side        string   `json:"side,omitempty"`
	StateFP     string   `json:"state_fp,omitempty"`
	CountyFP    string   `json:"county_fp,omitempty"`
	Tract       string   `json:"tract,omitempty"`
	Block       string   `json:"block,omitempty"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
}

// serializeToMessage marshals one geocoded row into a Kafka message.
func serializeToMessage(year int, r domain.GeocodeResult, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(addressMessage{
		Year:        year,
		ID:          r.ID,
		Address:     r.Address,
		Match:       r.Match,
		MatchType:   r.MatchType,
		Parsed:      r.Parsed,
		TigerLineID: r.TigerLineID,
		Side:        r.Side,
		StateFP:     r.StateFP,
		CountyFP:    r.CountyFP,
		Tract:       r.Tract,
		Block:       r.Block,
		Lat:         r.Lat,
		Lon:         r.Lon,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize geocoded row %s: %w", r.ID, err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.Itoa(year) + "-" + r.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "year", Value: []byte(strconv.Itoa(year))},
			{Key: "match", Value: []byte(strconv.FormatBool(r.Match))},
			{Key: "published_at", Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}
