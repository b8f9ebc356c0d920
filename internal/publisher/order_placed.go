package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/seafood-storefront/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	OrderPlacedTopic = "storefront.order-placed"
	orderPlacedEvent = "order_placed"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderPlaced is the event payload.
type OrderPlaced struct {
	OrderID       string               `json:"order_id"`
	Reference     string               `json:"reference"`
	SessionID     string               `json:"session_id"`
	Status        string               `json:"status"`
	Lines         []domain.OrderLine   `json:"lines"`
	Subtotal      decimal.Decimal      `json:"subtotal"`
	ShippingCost  decimal.Decimal      `json:"shipping_cost"`
	Total         decimal.Decimal      `json:"total"`
	Currency      string               `json:"currency"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	PlacedAt      time.Time            `json:"placed_at"`
}

type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(timeout time.Duration, brokers ...string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  OrderPlacedTopic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, timeout: timeout}
}

func (p *KafkaPublisher) PublishOrderPlaced(ctx context.Context, sessionID string, order *domain.CheckoutOrder, receipt *domain.OrderReceipt) error {
	msg, err := buildMessage(sessionID, order, receipt)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order placed %s: %w", order.Reference, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func buildMessage(sessionID string, order *domain.CheckoutOrder, receipt *domain.OrderReceipt) (kafka.Message, error) {
	payload, err := json.Marshal(OrderPlaced{
		OrderID:       receipt.OrderID,
		Reference:     order.Reference,
		SessionID:     sessionID,
		Status:        receipt.Status,
		Lines:         order.Lines,
		Subtotal:      order.Subtotal,
		ShippingCost:  order.ShippingCost,
		Total:         order.Total,
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod,
		PlacedAt:      receipt.PlacedAt,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal order placed payload: %w", err)
	}

	return kafka.Message{
		Key:   []byte(order.Reference), // reference for ordering
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(orderPlacedEvent)},
		},
	}, nil
}
