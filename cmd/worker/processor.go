package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/merchantkit/coflink-gateway/internal/aws"
	"github.com/merchantkit/coflink-gateway/internal/confirm"
	"github.com/merchantkit/coflink-gateway/internal/orders"
)

const metricNamespace = "CoflinkPayments"

// Processor consumes outcome events: it emits one metric per outcome and,
// for confirmed orders, records that the downstream notification ran.
type Processor struct {
	cloudwatch aws.CloudWatchAPI
	orderStore *orders.Store
}

// NewProcessor creates a new worker processor with AWS clients injected.
func NewProcessor(clients *aws.Clients, ordersTable string) *Processor {
	return &Processor{
		cloudwatch: clients.CloudWatch,
		orderStore: orders.NewStore(clients.DynamoDB, ordersTable),
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			log.Printf("worker error: %v", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg OutcomeMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	log.Printf("[worker] received order=%s outcome=%s event=%s",
		msg.OrderID, msg.Outcome, msg.EventID)

	if err := p.emitMetric(ctx, msg.Outcome); err != nil {
		// metrics are best effort; the transition already happened
		log.Printf("[worker] metric emission failed for order=%s: %v", msg.OrderID, err)
	}

	if msg.Outcome != confirm.OutcomeConfirmed {
		return nil
	}

	err := p.orderStore.MarkNotified(ctx, msg.OrderID)
	if errors.Is(err, orders.ErrStateConflict) {
		// redelivered message, the first delivery already got through
		log.Printf("[worker] order=%s already notified", msg.OrderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark order=%s notified: %w", msg.OrderID, err)
	}

	log.Printf("[worker] notified order=%s", msg.OrderID)
	return nil
}

func (p *Processor) emitMetric(ctx context.Context, outcome string) error {
	one := 1.0
	name := "PaymentOutcome"
	dimName := "Outcome"
	_, err := p.cloudwatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: awsString(metricNamespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &name,
				Value:      &one,
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: &dimName, Value: &outcome},
				},
			},
		},
	})
	return err
}

func awsString(s string) *string { return &s }
