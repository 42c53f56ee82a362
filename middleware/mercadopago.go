package middleware

import (
	"bytes"
	"clinipratica/api/logger"
	"clinipratica/api/mercadopago"
	"clinipratica/api/metrics"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SignatureValidKey is the gin context key telling handlers whether the
// delivery carried a verified signature.
const SignatureValidKey = "mp_signature_valid"

const maxWebhookBody = 1 << 20

// webhookClock is replaced in tests.
var webhookClock = time.Now

// MercadoPagoWebhookVerifier checks the x-signature header of provider
// deliveries. A body that is not a notification is a 400 before any signature
// work. With a secret configured any signature failure, including a ts older
// or newer than tolerance, is a 401. Without one the delivery is refused with
// 503 unless allowUnsigned is set, in which case it passes through unverified
// and is logged as a security event.
func MercadoPagoWebhookVerifier(secret string, allowUnsigned bool, tolerance time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			logger.Get().Error("failed to read webhook body", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		notification, err := mercadopago.ParseNotification(body)
		if err != nil {
			logger.Get().Warn("malformed webhook body", zap.Error(err))
			metrics.WebhookRequestsTotal.WithLabelValues("unknown", "400").Inc()
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid notification body"})
			return
		}

		if secret == "" {
			if !allowUnsigned {
				logger.Get().Error("webhook secret not configured, refusing delivery",
					zap.Bool("security_event", true))
				metrics.WebhookSignatureFailures.WithLabelValues("not_configured").Inc()
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "webhook verification not configured"})
				return
			}
			logger.Get().Warn("accepting unsigned webhook delivery",
				zap.Bool("security_event", true),
				zap.String("remote_addr", c.ClientIP()))
			c.Set(SignatureValidKey, false)
			c.Next()
			return
		}

		dataID := webhookDataID(c, notification)
		requestID := c.Request.Header.Get("x-request-id")
		err = mercadopago.VerifySignatureWithin(secret, c.Request.Header.Get("x-signature"), requestID, dataID,
			webhookClock(), tolerance)
		if err != nil {
			reason := signatureFailureReason(err)
			logger.Get().Warn("webhook signature rejected",
				zap.Bool("security_event", true),
				zap.String("reason", reason),
				zap.String("request_id", requestID),
				zap.String("data_id", dataID),
				zap.String("remote_addr", c.ClientIP()),
				zap.Error(err))
			metrics.WebhookSignatureFailures.WithLabelValues(reason).Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		c.Set(SignatureValidKey, true)
		c.Next()
	}
}

// webhookDataID prefers the data.id query parameter, which is what the
// provider signs, and falls back to the body.
func webhookDataID(c *gin.Context, n mercadopago.Notification) string {
	if id := c.Query("data.id"); id != "" {
		return id
	}
	return n.Data.ID.String()
}

func signatureFailureReason(err error) string {
	switch {
	case errors.Is(err, mercadopago.ErrMissingSignature):
		return "missing"
	case errors.Is(err, mercadopago.ErrMalformedHeader):
		return "malformed"
	case errors.Is(err, mercadopago.ErrStaleSignature):
		return "stale"
	default:
		return "mismatch"
	}
}

// SignatureValid reports what the verifier decided for this request.
func SignatureValid(c *gin.Context) bool {
	return c.GetBool(SignatureValidKey)
}
