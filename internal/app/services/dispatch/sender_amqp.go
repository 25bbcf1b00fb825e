package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// AMQPSender publishes evaluation requests to a topic exchange, one routing
// key per oracle endpoint. Node operators bind their queues to the endpoint
// identifier they were registered under.
type AMQPSender struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

var _ Sender = (*AMQPSender)(nil)

// DialAMQP connects to the broker and declares the request exchange.
func DialAMQP(brokerURL, exchange string) (*AMQPSender, error) {
	cfg := amqp.Config{
		Heartbeat: 60 * time.Second,
		Locale:    "en_US",
	}
	conn, err := amqp.DialConfig(brokerURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPSender{conn: conn, channel: channel, exchange: exchange}, nil
}

// Send publishes the request JSON with the endpoint as routing key.
func (s *AMQPSender) Send(_ context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return fmt.Errorf("amqp sender closed")
	}
	err = s.channel.Publish(s.exchange, req.Endpoint, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: req.CorrelationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", req.Endpoint, err)
	}
	return nil
}

// Close tears down the channel and connection.
func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
