package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/merchantkit/coflink-gateway/internal/aws"
	"github.com/merchantkit/coflink-gateway/internal/cart"
	"github.com/merchantkit/coflink-gateway/internal/coflink"
	"github.com/merchantkit/coflink-gateway/internal/confirm"
	"github.com/merchantkit/coflink-gateway/internal/idempotency"
	"github.com/merchantkit/coflink-gateway/internal/merchant"
	"github.com/merchantkit/coflink-gateway/internal/orders"
	"github.com/merchantkit/coflink-gateway/internal/validation"
)

// HandlerConfig groups dependencies for the gateway routes.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	Merchant         *merchant.Config
	OrdersTable      string
	IdempotencyTable string
	CartsTable       string
	QueueURL         string
	TTLWindow        time.Duration
}

// RegisterRoutes wires the checkout and bank-callback routes. All
// dependencies are built here once and captured by the handlers; there is no
// ambient lookup.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	orderStore := orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable)
	idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable)
	cartStore := cart.NewStore(cfg.DynamoDBClient, cfg.CartsTable)
	events := &outcomePublisher{publisher: aws.NewPublisher(cfg.SQSClient, cfg.QueueURL)}

	builder := &coflink.RequestBuilder{
		MerchantID: cfg.Merchant.MerchantID,
		PrivateKey: []byte(cfg.Merchant.PrivateKey),
		Passphrase: cfg.Merchant.PrivateKeyPass,
		Language:   cfg.Merchant.Language,
		RequestURL: cfg.Merchant.RequestURL,
		TestMode:   cfg.Merchant.TestMode,
	}

	confirmer := confirm.New(
		orderStore,
		cartStore,
		events,
		[]byte(cfg.Merchant.BankPublicKey),
		cfg.Merchant.AllowManualSignature,
		cfg.Merchant.ManualSignatureMessage,
	)

	r.POST("/checkout", checkoutHandler(cfg, v, builder, orderStore, idempStore))
	r.GET("/coflink/return", callbackHandler(cfg, confirmer))
	r.POST("/coflink/return", callbackHandler(cfg, confirmer))
}

// outcomePublisher adapts the SQS publisher to the state machine's event
// interface.
type outcomePublisher struct {
	publisher *aws.Publisher
}

func (o *outcomePublisher) PublishOutcome(ctx context.Context, ev confirm.OutcomeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return o.publisher.SendMessage(ctx, string(body), map[string]string{
		"order_id": ev.OrderID,
		"outcome":  ev.Outcome,
		"event_id": ev.EventID,
	})
}
