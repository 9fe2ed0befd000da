package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/merchantkit/coflink-gateway/internal/confirm"
)

// callbackHandler receives the bank's redirect after a hire-purchase
// decision. The bank sends the same payload over GET and POST, so both
// methods land here and the query string and form body are merged before
// decoding.
func callbackHandler(cfg HandlerConfig, confirmer *confirm.Confirmer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := callbackFields(c)
		log.Printf("[callback] received from %s: %v", c.ClientIP(), raw)

		res := confirmer.HandleCallback(c.Request.Context(), raw)

		body := gin.H{
			"order_id": res.OrderID,
			"outcome":  res.Code,
		}
		if res.Message != "" {
			body["message"] = res.Message
		}

		if res.Success() {
			body["result"] = "success"
			body["redirect"] = cfg.Merchant.SuccessURL
			c.JSON(http.StatusOK, body)
			return
		}

		body["result"] = "error"
		body["redirect"] = cfg.Merchant.CheckoutURL
		status := http.StatusOK
		if res.Code == confirm.OutcomeTechnicalError {
			status = http.StatusBadGateway
		}
		c.JSON(status, body)
	}
}

// callbackFields flattens the query string and, on POST, the form body into
// a single field map. The first value wins; the bank never repeats a field.
func callbackFields(c *gin.Context) map[string]string {
	raw := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			raw[key] = values[0]
		}
	}
	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseForm(); err == nil {
			for key, values := range c.Request.PostForm {
				if len(values) > 0 {
					raw[key] = values[0]
				}
			}
		}
	}
	return raw
}
