package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/forgeworks/tollgate/pkg/billing"
	"github.com/forgeworks/tollgate/pkg/httputil"
	"github.com/forgeworks/tollgate/pkg/observability"
)

// maxWebhookBody bounds processor webhook payload size.
const maxWebhookBody = 1 << 20

// WebhookHandlers receives payment processor webhooks.
type WebhookHandlers struct {
	coordinator *billing.Coordinator
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewWebhookHandlers creates a new WebhookHandlers
func NewWebhookHandlers(coordinator *billing.Coordinator, logger *observability.Logger, metrics *observability.Metrics) *WebhookHandlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &WebhookHandlers{coordinator: coordinator, logger: logger, metrics: metrics}
}

// RegisterRoutes registers the webhook endpoint
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/billing/webhook", h.HandleWebhook).Methods("POST")
}

// HandleWebhook verifies and processes one processor delivery. Only a
// signature failure produces a non-2xx status: anything else is
// acknowledged so the processor does not retry endlessly, and genuine
// processing failures surface through logs and metrics instead.
func (h *WebhookHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	err = h.coordinator.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		h.countWebhook("ok")
		httputil.WriteSuccess(w, map[string]string{"status": "processed"})
	case billing.IsSignatureError(err):
		h.countWebhook("bad_signature")
		httputil.WriteBadRequest(w, "invalid webhook signature")
	default:
		h.countWebhook("error")
		observability.TraceLogger(r.Context(), h.logger).WithError(err).Error("webhook processing failed")
		httputil.WriteSuccess(w, map[string]string{"status": "acknowledged"})
	}
}

func (h *WebhookHandlers) countWebhook(outcome string) {
	if h.metrics != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues(outcome).Inc()
	}
}
