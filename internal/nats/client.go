package nats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dronewatch/tracker/internal/types"
)

const (
	// StreamName holds every published batch for at-least-once redelivery.
	StreamName = "TRACK_BATCHES"

	// SubjectPrefix is followed by the source tag, e.g. track.batch.radar-feed.
	SubjectPrefix = "track.batch."
)

// Client publishes and consumes batch envelopes over NATS JetStream. File
// storage on the stream is the durable fallback required of feed pollers: a
// batch accepted by JetStream survives a tracker restart.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to NATS and ensures the batch stream exists.
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + "*"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{conn: nc, js: js}, nil
}

// PublishBatch publishes one poll cycle's batch for its source.
func (c *Client) PublishBatch(batch *types.BatchEnvelope) error {
	if batch.Source == "" {
		return fmt.Errorf("batch has no source")
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	if _, err := c.js.Publish(SubjectPrefix+batch.Source, data); err != nil {
		return fmt.Errorf("failed to publish batch: %w", err)
	}
	return nil
}

// SubscribeBatches delivers every published batch to the handler. Batches of
// different sources arrive on different subjects and may be handled
// concurrently; the engine serializes per source.
func (c *Client) SubscribeBatches(handler func(*types.BatchEnvelope)) error {
	_, err := c.js.Subscribe(SubjectPrefix+"*", func(msg *nats.Msg) {
		batch, err := decodeBatch(msg.Subject, msg.Data)
		if err != nil {
			fmt.Printf("Error unmarshaling batch: %v\n", err)
			return
		}
		handler(batch)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// decodeBatch parses a delivered message, filling the source from the subject
// when the envelope left it empty.
func decodeBatch(subject string, data []byte) (*types.BatchEnvelope, error) {
	var batch types.BatchEnvelope
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	if batch.Source == "" {
		batch.Source = strings.TrimPrefix(subject, SubjectPrefix)
	}
	return &batch, nil
}

// Close closes the NATS connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
