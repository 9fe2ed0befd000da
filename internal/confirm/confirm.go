package confirm

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/merchantkit/coflink-gateway/internal/coflink"
	"github.com/merchantkit/coflink-gateway/internal/orders"
)

// Outcome codes for a processed callback.
const (
	OutcomeConfirmed        = "confirmed"
	OutcomePendingManual    = "pending-manual"
	OutcomeRejectedBank     = "rejected-bank"
	OutcomeRejectedMerchant = "rejected-merchant"
	OutcomeDuplicate        = "duplicate"
	OutcomeTechnicalError   = "technical-error"
)

// User-facing messages. Every internal failure funnels to the one generic
// technical-error text; only the two rejection paths and the manual-signature
// paths get distinct wording.
const (
	MessageRejectedBank     = "Sorry, it appears that the bank refused the contract. Please choose another payment method or contact support."
	MessageRejectedMerchant = "Unfortunately it's currently only possible to sign contracts digitally. Please sign the contract digitally, choose another payment method or contact support."
	MessageEmptyCallback    = "Your application is being reviewed by the bank. You will be contacted shortly."
	MessageTechnicalError   = "We were unable to process the order due to a technical error. Please contact the store support or use a different payment method."

	// DefaultManualSignatureMessage is shown when the bank asks for a manual
	// contract signature and the merchant allows it. Merchants usually
	// override it in configuration.
	DefaultManualSignatureMessage = "Your hire-purchase contract requires a manual signature. The bank will contact you to complete it."
)

// OrderStore is the slice of the order store the state machine needs. The
// engine never owns order persistence; the store is the single writer and
// ApplyTransition must be atomic per order id.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	ApplyTransition(ctx context.Context, orderID, expectedState, nextState string) error
}

// CartService empties a customer's persisted cart.
type CartService interface {
	Clear(ctx context.Context, customerID string) error
}

// OutcomeEvent is published after a state transition has been applied.
type OutcomeEvent struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	Outcome    string    `json:"outcome"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher fans a committed outcome out to downstream consumers.
type EventPublisher interface {
	PublishOutcome(ctx context.Context, ev OutcomeEvent) error
}

// Result is what the HTTP layer turns into a redirect plus notice.
type Result struct {
	Code      string
	OrderID   string
	Message   string
	Duplicate bool // true when a redelivered callback changed nothing
}

// Success reports whether the checkout flow may proceed to the thank-you
// page (confirmed or pending-manual, including duplicates of those).
func (r Result) Success() bool {
	switch r.Code {
	case OutcomeConfirmed, OutcomePendingManual, OutcomeDuplicate:
		return true
	default:
		return false
	}
}

// Confirmer maps verified (or absent) bank responses onto order-state
// transitions. It holds no mutable state and is safe for concurrent use; all
// race handling lives in the store's compare-and-set.
type Confirmer struct {
	store                OrderStore
	carts                CartService
	events               EventPublisher
	bankPublicKey        []byte
	allowManualSignature bool
	manualMessage        string
}

// New builds a Confirmer. events and carts may not be nil; pass the real
// collaborators or test fakes. manualMessage falls back to the default text.
func New(store OrderStore, carts CartService, events EventPublisher, bankPublicKey []byte, allowManualSignature bool, manualMessage string) *Confirmer {
	if manualMessage == "" {
		manualMessage = DefaultManualSignatureMessage
	}
	return &Confirmer{
		store:                store,
		carts:                carts,
		events:               events,
		bankPublicKey:        bankPublicKey,
		allowManualSignature: allowManualSignature,
		manualMessage:        manualMessage,
	}
}

// HandleCallback processes one inbound delivery, either the asynchronous
// notification or the browser return; the two may arrive in any order and
// more than once.
func (c *Confirmer) HandleCallback(ctx context.Context, raw map[string]string) Result {
	resp := coflink.NewResponse(raw)
	switch resp.Kind() {
	case coflink.KindEmpty:
		return c.handleEmpty(ctx, resp.OrderStamp())
	case coflink.KindSigned:
		return c.handleSigned(ctx, resp)
	default:
		log.Printf("[confirm] anomalous callback, fields: %v", resp.Fields())
		return c.technicalError("")
	}
}

// handleEmpty covers the bare return-URL visit: the customer walked back from
// the bank with no decision. Only the first arrival while still pending may
// move the order; anything later is a logged no-op.
func (c *Confirmer) handleEmpty(ctx context.Context, orderID string) Result {
	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		log.Printf("[confirm] order lookup failed for %s: %v", orderID, err)
		return c.technicalError(orderID)
	}
	if order == nil {
		log.Printf("[confirm] empty callback for unknown order %s", orderID)
		return c.technicalError(orderID)
	}

	switch order.State {
	case orders.StatePendingBank:
		err := c.store.ApplyTransition(ctx, orderID, orders.StatePendingBank, orders.StatePendingManual)
		if err != nil && !errors.Is(err, orders.ErrStateConflict) {
			log.Printf("[confirm] transition failed for %s: %v", orderID, err)
			return c.technicalError(orderID)
		}
		if err == nil {
			c.publish(ctx, orderID, OutcomePendingManual)
		}
		return Result{Code: OutcomePendingManual, OrderID: orderID, Message: MessageEmptyCallback, Duplicate: err != nil}
	case orders.StatePendingManual:
		// already pending; keep telling the customer the same thing
		return Result{Code: OutcomePendingManual, OrderID: orderID, Message: MessageEmptyCallback, Duplicate: true}
	default:
		log.Printf("[confirm] duplicate empty callback for %s in state %s, ignoring", orderID, order.State)
		return Result{Code: OutcomeDuplicate, OrderID: orderID, Duplicate: true}
	}
}

func (c *Confirmer) handleSigned(ctx context.Context, resp *coflink.Response) Result {
	orderID := resp.OrderStamp()

	if !resp.Verify(c.bankPublicKey) {
		log.Printf("[confirm] signature verification failed for order %s", orderID)
		return c.technicalError(orderID)
	}

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		log.Printf("[confirm] order lookup failed for %s: %v", orderID, err)
		return c.technicalError(orderID)
	}
	if order == nil {
		log.Printf("[confirm] signed callback for unknown order %s", orderID)
		return c.technicalError(orderID)
	}

	switch resp.Status() {
	case coflink.StatusConfirmed:
		return c.confirm(ctx, order)
	case coflink.StatusManualReview:
		if c.allowManualSignature {
			return c.pendManual(ctx, order)
		}
		return c.rejectByMerchant(ctx, order)
	case coflink.StatusRejected:
		return c.rejectByBank(ctx, order)
	default:
		log.Printf("[confirm] unknown service code %q for order %s", resp.ServiceCode(), orderID)
		return c.technicalError(orderID)
	}
}

func (c *Confirmer) confirm(ctx context.Context, order *orders.Order) Result {
	applied, res := c.transition(ctx, order, orders.StateConfirmed, OutcomeConfirmed, "")
	if applied {
		c.clearCart(ctx, order)
	}
	return res
}

func (c *Confirmer) pendManual(ctx context.Context, order *orders.Order) Result {
	applied, res := c.transition(ctx, order, orders.StatePendingManual, OutcomePendingManual, c.manualMessage)
	if applied {
		c.clearCart(ctx, order)
	}
	return res
}

func (c *Confirmer) rejectByBank(ctx context.Context, order *orders.Order) Result {
	_, res := c.transition(ctx, order, orders.StateRejectedBank, OutcomeRejectedBank, MessageRejectedBank)
	return res
}

func (c *Confirmer) rejectByMerchant(ctx context.Context, order *orders.Order) Result {
	_, res := c.transition(ctx, order, orders.StateRejectedMerchant, OutcomeRejectedMerchant, MessageRejectedMerchant)
	return res
}

// transition applies pending -> next with compare-and-set. The signed
// decision may arrive while the order still awaits the bank or after it was
// parked for a manual contract signature, so both pending states are valid
// sources. A conflict on both means another delivery won the race: if the
// store already shows the target state the redelivery is benign and reported
// as a duplicate with no side effects; any other state is an anomaly.
func (c *Confirmer) transition(ctx context.Context, order *orders.Order, nextState, outcome, message string) (bool, Result) {
	for _, expected := range []string{orders.StatePendingBank, orders.StatePendingManual} {
		if expected == nextState {
			continue
		}
		err := c.store.ApplyTransition(ctx, order.OrderID, expected, nextState)
		if err == nil {
			c.publish(ctx, order.OrderID, outcome)
			return true, Result{Code: outcome, OrderID: order.OrderID, Message: message}
		}
		if !errors.Is(err, orders.ErrStateConflict) {
			log.Printf("[confirm] transition failed for %s: %v", order.OrderID, err)
			return false, c.technicalError(order.OrderID)
		}
	}

	current, lookupErr := c.store.Get(ctx, order.OrderID)
	if lookupErr != nil || current == nil {
		log.Printf("[confirm] re-read after conflict failed for %s: %v", order.OrderID, lookupErr)
		return false, c.technicalError(order.OrderID)
	}
	if current.State == nextState {
		log.Printf("[confirm] duplicate delivery for %s, already %s", order.OrderID, nextState)
		return false, Result{Code: outcome, OrderID: order.OrderID, Message: message, Duplicate: true}
	}
	log.Printf("[confirm] conflicting delivery for %s: wanted %s, store has %s", order.OrderID, nextState, current.State)
	return false, c.technicalError(order.OrderID)
}

// clearCart is best-effort: a failed cart delete must never reverse or block
// a committed payment outcome.
func (c *Confirmer) clearCart(ctx context.Context, order *orders.Order) {
	if err := c.carts.Clear(ctx, order.CustomerID); err != nil {
		log.Printf("[confirm] cart clear failed for customer %s: %v", order.CustomerID, err)
	}
}

// publish is best-effort as well; consumers reconcile from the order table.
func (c *Confirmer) publish(ctx context.Context, orderID, outcome string) {
	ev := OutcomeEvent{
		EventID:    uuid.NewString(),
		OrderID:    orderID,
		Outcome:    outcome,
		OccurredAt: time.Now().UTC(),
	}
	if err := c.events.PublishOutcome(ctx, ev); err != nil {
		log.Printf("[confirm] outcome publish failed for %s: %v", orderID, err)
	}
}

func (c *Confirmer) technicalError(orderID string) Result {
	return Result{Code: OutcomeTechnicalError, OrderID: orderID, Message: MessageTechnicalError}
}
