// internal/infrastructure/handler/quote_handler.go
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/damon-houk/billing-rate-provider/internal/application/service"
	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/logger"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/middleware"
	"github.com/gorilla/mux"
)

// QuoteHandler handles HTTP requests for payment quotes
type QuoteHandler struct {
	service *service.PaymentQuoteService
	logger  logger.Logger
}

// NewQuoteHandler creates a new quote handler
func NewQuoteHandler(service *service.PaymentQuoteService, log logger.Logger) *QuoteHandler {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &QuoteHandler{
		service: service,
		logger:  log,
	}
}

// parseAmount reads the 'amount' query parameter
func parseAmount(r *http.Request) (float64, bool) {
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	return amount, err == nil
}

// sendQuoteError maps quote service errors onto HTTP statuses
func (h *QuoteHandler) sendQuoteError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		sendErrorResponse(w, h.logger, "Invalid payment amount",
			"The 'amount' query parameter must be a positive number", http.StatusBadRequest, requestID)
	case errors.Is(err, entity.ErrUnsupportedSymbol):
		sendErrorResponse(w, h.logger, "Unsupported currency",
			err.Error(), http.StatusBadRequest, requestID)
	default:
		h.logger.Error("Unexpected error in quote handler", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		sendErrorResponse(w, h.logger, "Internal server error",
			"An unexpected error occurred. Please try again later.", http.StatusInternalServerError, requestID)
	}
}

// QuoteBankTransfer handles GET /quotes/bank
func (h *QuoteHandler) QuoteBankTransfer(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	currency := strings.ToUpper(r.URL.Query().Get("currency"))
	if currency == "" {
		sendErrorResponse(w, h.logger, "Missing currency parameter",
			"The 'currency' query parameter is required", http.StatusBadRequest, requestID)
		return
	}

	amount, ok := parseAmount(r)
	if !ok {
		sendErrorResponse(w, h.logger, "Invalid payment amount",
			"The 'amount' query parameter must be a positive number", http.StatusBadRequest, requestID)
		return
	}

	quote, err := h.service.QuoteBankTransfer(amount, currency)
	if err != nil {
		h.sendQuoteError(w, err, requestID)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, quote)
}

// QuoteCrypto handles GET /quotes/crypto
func (h *QuoteHandler) QuoteCrypto(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	asset := strings.ToUpper(r.URL.Query().Get("asset"))
	if asset == "" {
		sendErrorResponse(w, h.logger, "Missing asset parameter",
			"The 'asset' query parameter is required", http.StatusBadRequest, requestID)
		return
	}

	amount, ok := parseAmount(r)
	if !ok {
		sendErrorResponse(w, h.logger, "Invalid payment amount",
			"The 'amount' query parameter must be a positive number", http.StatusBadRequest, requestID)
		return
	}

	quote, err := h.service.QuoteCrypto(amount, asset)
	if err != nil {
		h.sendQuoteError(w, err, requestID)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, quote)
}

// CryptoOptions handles GET /quotes/crypto/options
func (h *QuoteHandler) CryptoOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"options": h.service.CryptoOptions(),
	})
}

// RegisterRoutes registers the quote handler routes
func (h *QuoteHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/quotes/bank", h.QuoteBankTransfer).Methods("GET")
	router.HandleFunc("/quotes/crypto", h.QuoteCrypto).Methods("GET")
	router.HandleFunc("/quotes/crypto/options", h.CryptoOptions).Methods("GET")

	h.logger.Info("Quote routes registered", map[string]interface{}{
		"routes": []string{
			"GET /quotes/bank",
			"GET /quotes/crypto",
			"GET /quotes/crypto/options",
		},
	})
}
