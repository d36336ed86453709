package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"oraclelumira/internal/util"
	"oraclelumira/pkg/domain"
)

// GenerationJob is the message sent to the external content-generation
// automation. The automation answers through the expert content callback.
type GenerationJob struct {
	OrderID       string              `json:"orderId"`
	ProductID     string              `json:"productId"`
	Level         domain.ProductLevel `json:"level"`
	Prompt        string              `json:"prompt"`
	CustomerEmail string              `json:"customerEmail,omitempty"`
	RevisionCount int                 `json:"revisionCount"`
	RequestedBy   string              `json:"requestedBy"`
	RequestedAt   time.Time           `json:"requestedAt"`
}

// Publisher sends generation jobs to the automation system.
type Publisher interface {
	PublishGeneration(ctx context.Context, job GenerationJob) error
}

// AMQPPublisher publishes jobs to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	mu         sync.Mutex
	channel    *amqp.Channel
	conn       *amqp.Connection
	exchange   string
	routingKey string
}

// NewAMQPPublisher dials the broker and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange, routingKey string) (*AMQPPublisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "lumira.generation"
	}
	routingKey = strings.TrimSpace(routingKey)
	if routingKey == "" {
		routingKey = "generation.requested"
	}
	conn, err := amqp.Dial(url)
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
	return &AMQPPublisher{
		conn:       conn,
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

// PublishGeneration sends one job as a persistent JSON message.
func (p *AMQPPublisher) PublishGeneration(ctx context.Context, job GenerationJob) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    util.NewID(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish generation job: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

func encodeJob(job GenerationJob) ([]byte, error) {
	if strings.TrimSpace(job.OrderID) == "" {
		return nil, errors.New("generation job requires an order id")
	}
	if strings.TrimSpace(job.Prompt) == "" {
		return nil, errors.New("generation job requires a prompt")
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode generation job: %w", err)
	}
	return body, nil
}
