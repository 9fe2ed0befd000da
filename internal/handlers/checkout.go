package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/merchantkit/coflink-gateway/internal/coflink"
	"github.com/merchantkit/coflink-gateway/internal/idempotency"
	"github.com/merchantkit/coflink-gateway/internal/orders"
	"github.com/merchantkit/coflink-gateway/internal/validation"
)

// checkoutHandler builds the signed bank request for one checkout attempt.
// The response carries the target URL and the ordered field set; the
// storefront renders them as an auto-submitting form that redirects the
// customer to the bank.
func checkoutHandler(cfg HandlerConfig, v *validatorv10.Validate, builder *coflink.RequestBuilder, orderStore *orders.Store, idempStore *idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CheckoutRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		// The bank rejects zero-amount lines, so free items never reach the
		// request assembler.
		items := make([]coflink.OrderItem, 0, len(req.Items))
		lines := make([]orders.LineItem, 0, len(req.Items))
		for _, it := range req.Items {
			if it.GrossAmount <= 0 {
				continue
			}
			items = append(items, coflink.OrderItem{
				Name:        it.Name,
				Code:        it.Code,
				GrossAmount: it.GrossAmount,
				VATPercent:  it.VATPercent,
			})
			lines = append(lines, orders.LineItem{
				Name:        it.Name,
				Code:        it.Code,
				GrossAmount: it.GrossAmount,
				VATPercent:  it.VATPercent,
			})
		}

		orderID := uuid.NewString()
		returnURL, err := correlatedReturnURL(cfg.Merchant.ReturnBaseURL, orderID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "bad_return_url"})
			return
		}

		payment, err := builder.Build(orderID, req.Email, req.Phone, returnURL, items)
		if err != nil {
			switch {
			case errors.Is(err, coflink.ErrEmptyOrder):
				log.Printf("[checkout] attempting to process an empty order, customer=%s", req.CustomerID)
				c.JSON(http.StatusBadRequest, gin.H{"error": "empty_order"})
			case errors.Is(err, coflink.ErrFieldTooLong):
				c.JSON(http.StatusBadRequest, gin.H{"error": "field_too_long", "msg": err.Error()})
			default:
				log.Printf("[checkout] request build failed: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "request_build_failed"})
			}
			return
		}

		now := time.Now().UTC()
		idempItem := map[string]interface{}{
			"idempotency_key": idempKey,
			"status":          idempotency.StatusInProgress,
			"created_at":      now.Format(time.RFC3339),
			"updated_at":      now.Format(time.RFC3339),
			"order_id":        orderID,
		}
		order := orders.Order{
			OrderID:    orderID,
			CustomerID: req.CustomerID,
			State:      orders.StatePendingBank,
			Email:      req.Email,
			Phone:      req.Phone,
			Items:      lines,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err = orderStore.CreateWithIdempotencyTransaction(ctx, cfg.IdempotencyTable, idempItem, order, cfg.TTLWindow)
		if err != nil {
			replayIdempotent(c, idempStore, idempKey, err)
			return
		}

		log.Printf("[checkout] order %s prepared for the bank, %d items", orderID, len(items))

		body := gin.H{
			"order_id": orderID,
			"url":      payment.URL,
			"fields":   payment.FieldMap(),
		}
		// Cache the response so a retried POST with the same key replays
		// instead of signing a second request. A record left IN_PROGRESS
		// would replay as 202 forever, so a failed cache write is settled
		// as FAILED.
		cached, merr := json.Marshal(body)
		if merr == nil {
			merr = idempStore.MarkDone(ctx, idempKey, string(cached), http.StatusCreated)
		}
		if merr != nil {
			log.Printf("[checkout] response caching failed for %s: %v", orderID, merr)
			if ferr := idempStore.MarkFailed(ctx, idempKey, "response caching failed"); ferr != nil {
				log.Printf("[checkout] marking key failed for %s: %v", orderID, ferr)
			}
		}

		c.JSON(http.StatusCreated, body)
	}
}

// replayIdempotent resolves a failed create transaction: if the idempotency
// key was already used, return the stored response or the in-progress state.
func replayIdempotent(c *gin.Context, idempStore *idempotency.Store, idempKey string, createErr error) {
	rec, err := idempStore.Get(c.Request.Context(), idempKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction_failed", "detail": createErr.Error()})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.OrderID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "order_id": rec.OrderID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

// correlatedReturnURL appends the order correlation parameter to the
// configured return URL.
func correlatedReturnURL(base, orderID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(coflink.CorrelationParam, orderID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
