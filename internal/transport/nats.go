package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/flipgg/flipsync/internal/bus"
	"github.com/flipgg/flipsync/internal/connmon"
	"github.com/flipgg/flipsync/internal/events"
)

// NATSConfig holds JetStream consumer configuration.
type NATSConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	SyncSubject   string // prefix; room id is appended
	MaxDeliver    int
	AckWait       time.Duration
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns the default JetStream configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		StreamName:    "FLIP_EVENTS",
		ConsumerName:  "flipsync",
		SubjectFilter: "flip.events.>",
		SyncSubject:   "flip.sync",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSSource consumes ledger events from JetStream and republishes them on
// the bus. Resync requests go out on per-room sync subjects.
type NATSSource struct {
	cfg      NATSConfig
	bus      *bus.Bus
	monitor  *connmon.Monitor
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
}

// NewNATSSource connects to NATS and ensures the durable consumer exists.
func NewNATSSource(cfg NATSConfig, b *bus.Bus, monitor *connmon.Monitor) (*NATSSource, error) {
	src := &NATSSource{cfg: cfg, bus: b, monitor: monitor}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			monitor.MarkReconnecting()
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			monitor.MarkConnected()
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	src.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	src.js = js

	if err := src.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	monitor.MarkConnected()
	return src, nil
}

func (s *NATSSource) ensureConsumer(ctx context.Context) error {
	stream, err := s.js.Stream(ctx, s.cfg.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, s.cfg.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
			Name:          s.cfg.ConsumerName,
			Durable:       s.cfg.ConsumerName,
			Description:   "flipsync engine consumer",
			FilterSubject: s.cfg.SubjectFilter,
			AckPolicy:     jetstream.AckExplicitPolicy,
			MaxDeliver:    s.cfg.MaxDeliver,
			AckWait:       s.cfg.AckWait,
			ReplayPolicy:  jetstream.ReplayInstantPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", s.cfg.ConsumerName).
			Str("stream", s.cfg.StreamName).
			Msg("created JetStream consumer")
	}

	s.consumer = consumer
	return nil
}

// Start consumes events until the context is done.
func (s *NATSSource) Start(ctx context.Context) error {
	consumeCtx, err := s.consumer.Consume(func(msg jetstream.Msg) {
		var evt events.Envelope
		if err := json.Unmarshal(msg.Data(), &evt); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject()).Msg("undecodable event, dropping")
			msg.Ack() // poison message, do not redeliver
			return
		}
		s.bus.Publish(evt)
		if err := msg.Ack(); err != nil {
			log.Error().Err(err).Msg("failed to ACK message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	<-ctx.Done()
	consumeCtx.Stop()
	return nil
}

// RequestSync publishes a sync request for a room.
func (s *NATSSource) RequestSync(ctx context.Context, roomID string, full bool) error {
	data, err := json.Marshal(Frame{Op: opSync, RoomID: roomID, Full: full})
	if err != nil {
		return fmt.Errorf("marshal sync frame: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", s.cfg.SyncSubject, roomID)
	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish sync to %s: %w", subject, err)
	}
	return nil
}

// Close shuts the NATS connection down.
func (s *NATSSource) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
