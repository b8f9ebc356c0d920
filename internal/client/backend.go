package client

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/seafood-storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	GetCartMethod    = "/storefront.v1.CartService/GetCart"
	PlaceOrderMethod = "/storefront.v1.OrderService/PlaceOrder"
)

type GetCartRequest struct {
	Owner string `json:"owner"`
}

type CartItem struct {
	ProductID     string           `json:"product_id"`
	Name          string           `json:"name"`
	ImageRef      string           `json:"image_ref"`
	BasePrice     decimal.Decimal  `json:"base_price"`
	DiscountPrice *decimal.Decimal `json:"discount_price,omitempty"`
	Quantity      int              `json:"quantity"`
	Stock         int              `json:"stock"`
}

type GetCartResponse struct {
	Items []CartItem `json:"items"`
}

type PlaceOrderRequest struct {
	Order *domain.CheckoutOrder `json:"order"`
}

type PlaceOrderResponse struct {
	OrderID  string    `json:"order_id"`
	Status   string    `json:"status"`
	PlacedAt time.Time `json:"placed_at"`
}

type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// Dial opens the connection to the storefront backend.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
}

// BackendClient implements the server cart and order submission collaborators.
type BackendClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger

	cartBreaker  *gobreaker.CircuitBreaker[*GetCartResponse]
	orderBreaker *gobreaker.CircuitBreaker[*PlaceOrderResponse]
}

func NewBackendClient(conn grpc.ClientConnInterface, timeout time.Duration, bs BreakerSettings, logger *zap.Logger) *BackendClient {
	return &BackendClient{
		conn:         conn,
		timeout:      timeout,
		logger:       logger,
		cartBreaker:  gobreaker.NewCircuitBreaker[*GetCartResponse](breakerSettings("backend-cart", bs, logger)),
		orderBreaker: gobreaker.NewCircuitBreaker[*PlaceOrderResponse](breakerSettings("backend-order", bs, logger)),
	}
}

// FetchCart returns the backend's cart for owner. An owner without a cart
// gets an empty cart.
func (c *BackendClient) FetchCart(ctx context.Context, owner string) ([]domain.CartLine, error) {
	resp, err := c.cartBreaker.Execute(func() (*GetCartResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel() // releases resources if GetCart completes before timeout elapses

		out := &GetCartResponse{}
		if err := c.conn.Invoke(callCtx, GetCartMethod, &GetCartRequest{Owner: owner}, out, grpc.CallContentSubtype(codecName)); err != nil {
			return nil, err
		}
		return out, nil
	})
	if status.Code(err) == codes.NotFound {
		return []domain.CartLine{}, nil
	}
	if err != nil {
		return nil, &domain.TransportError{Op: "fetch_cart", Err: err}
	}

	now := time.Now()
	lines := make([]domain.CartLine, 0, len(resp.Items))
	for _, item := range resp.Items {
		line := domain.NewCartLine(domain.Product{
			ID:            item.ProductID,
			Name:          item.Name,
			ImageRef:      item.ImageRef,
			BasePrice:     item.BasePrice,
			DiscountPrice: item.DiscountPrice,
			Stock:         item.Stock,
		}, now)
		line.Quantity = item.Quantity
		lines = append(lines, line)
	}
	return lines, nil
}

func (c *BackendClient) SubmitOrder(ctx context.Context, order *domain.CheckoutOrder) (*domain.OrderReceipt, error) {
	resp, err := c.orderBreaker.Execute(func() (*PlaceOrderResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		out := &PlaceOrderResponse{}
		if err := c.conn.Invoke(callCtx, PlaceOrderMethod, &PlaceOrderRequest{Order: order}, out, grpc.CallContentSubtype(codecName)); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, &domain.TransportError{Op: "submit_order", Err: err}
	}

	return &domain.OrderReceipt{
		OrderID:   resp.OrderID,
		Reference: order.Reference,
		Status:    resp.Status,
		PlacedAt:  resp.PlacedAt,
	}, nil
}

func breakerSettings(name string, bs BreakerSettings, logger *zap.Logger) gobreaker.Settings {
	failures := bs.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: bs.HalfOpenRequests,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// caller mistakes are not backend failures
		IsSuccessful: func(err error) bool {
			switch status.Code(err) {
			case codes.OK, codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.AlreadyExists:
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	}
}

// IsBreakerOpen reports whether err was caused by an open circuit.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
