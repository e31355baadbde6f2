// internal/infrastructure/handler/rate_handler.go
package handler

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/damon-houk/billing-rate-provider/internal/application/service"
	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	"github.com/damon-houk/billing-rate-provider/internal/domain/repository"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/logger"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/middleware"
	"github.com/gorilla/mux"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// RateHandler exposes the rate providers over HTTP
type RateHandler struct {
	providers map[string]*service.RateProvider
	history   repository.CycleRepository
	logger    logger.Logger
}

// NewRateHandler creates a new rate handler. history may be nil when cycle
// recording is disabled.
func NewRateHandler(providers []*service.RateProvider, history repository.CycleRepository, log logger.Logger) *RateHandler {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	byName := make(map[string]*service.RateProvider, len(providers))
	for _, p := range providers {
		byName[p.Domain().Name] = p
	}

	return &RateHandler{
		providers: byName,
		history:   history,
		logger:    log,
	}
}

// provider resolves the {domain} path variable or writes a 404
func (h *RateHandler) provider(w http.ResponseWriter, r *http.Request, requestID string) (*service.RateProvider, bool) {
	name := strings.ToLower(mux.Vars(r)["domain"])
	if p, ok := h.providers[name]; ok {
		return p, true
	}

	h.logger.Warn("Unknown rate domain", map[string]interface{}{
		"request_id": requestID,
		"domain":     name,
	})
	sendErrorResponse(w, h.logger, "Unknown rate domain",
		fmt.Sprintf("Domain %q is not served; use crypto or fiat", name), http.StatusNotFound, requestID)
	return nil, false
}

// GetRates returns the current table of a domain
func (h *RateHandler) GetRates(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p, ok := h.provider(w, r, requestID)
	if !ok {
		return
	}

	writeJSON(w, h.logger, http.StatusOK, newRatesResponse(p.Domain(), p.State()))
}

// RefreshRates runs a manual refresh cycle and returns its result
func (h *RateHandler) RefreshRates(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p, ok := h.provider(w, r, requestID)
	if !ok {
		return
	}

	h.logger.Info("Manual refresh requested", map[string]interface{}{
		"request_id": requestID,
		"domain":     p.Domain().Name,
	})

	state, committed := p.Refresh(r.Context())
	if committed {
		state = p.State()
	}

	writeJSON(w, h.logger, http.StatusOK, RefreshResponse{
		RatesResponse: newRatesResponse(p.Domain(), state),
		Committed:     committed,
	})
}

// Convert converts an amount between two symbols of a domain
func (h *RateHandler) Convert(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p, ok := h.provider(w, r, requestID)
	if !ok {
		return
	}

	query := r.URL.Query()
	from := strings.ToUpper(query.Get("from"))
	to := strings.ToUpper(query.Get("to"))
	if from == "" || to == "" {
		sendErrorResponse(w, h.logger, "Missing symbol parameter",
			"Both 'from' and 'to' query parameters are required", http.StatusBadRequest, requestID)
		return
	}

	amount, err := strconv.ParseFloat(query.Get("amount"), 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		sendErrorResponse(w, h.logger, "Invalid amount",
			"The 'amount' query parameter must be a number", http.StatusBadRequest, requestID)
		return
	}

	resp := ConvertResponse{
		Domain:  p.Domain().Name,
		Amount:  amount,
		From:    from,
		To:      to,
		Display: service.NotAvailable,
	}

	converted, err := p.Convert(amount, from, to)
	if err != nil {
		if !errors.Is(err, entity.ErrInvalidRate) {
			h.logger.Error("Unexpected conversion error", map[string]interface{}{
				"request_id": requestID,
				"error":      err.Error(),
			})
			sendErrorResponse(w, h.logger, "Internal server error",
				"An unexpected error occurred. Please try again later.", http.StatusInternalServerError, requestID)
			return
		}

		h.logger.Warn("Conversion refused", map[string]interface{}{
			"request_id": requestID,
			"from":       from,
			"to":         to,
			"error":      err.Error(),
		})
		resp.Error = err.Error()
		writeJSON(w, h.logger, http.StatusUnprocessableEntity, resp)
		return
	}

	resp.Result = &converted
	resp.Display = formatAmount(to, converted)
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// formatAmount renders fiat with its symbol and two decimals, anything else with eight
func formatAmount(symbol string, amount float64) string {
	if c, ok := entity.LookupCurrency(symbol); ok {
		return fmt.Sprintf("%s%.2f", c.Symbol, amount)
	}
	return fmt.Sprintf("%.8f", amount)
}

// GetHistory lists the most recent refresh cycles of a domain
func (h *RateHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p, ok := h.provider(w, r, requestID)
	if !ok {
		return
	}

	if h.history == nil {
		sendErrorResponse(w, h.logger, "History disabled",
			"Refresh cycle recording is not enabled on this server", http.StatusNotFound, requestID)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			sendErrorResponse(w, h.logger, "Invalid limit",
				fmt.Sprintf("The 'limit' query parameter must be between 1 and %d", maxHistoryLimit),
				http.StatusBadRequest, requestID)
			return
		}
		limit = n
	}

	cycles, err := h.history.ListByDomain(r.Context(), p.Domain().Name, limit)
	if err != nil {
		h.logger.Error("Failed to list refresh cycles", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		sendErrorResponse(w, h.logger, "Internal server error",
			"Unable to read refresh history. Please try again later.", http.StatusInternalServerError, requestID)
		return
	}

	resp := HistoryResponse{
		Domain: p.Domain().Name,
		Cycles: make([]CycleResponse, 0, len(cycles)),
	}
	for _, c := range cycles {
		resp.Cycles = append(resp.Cycles, newCycleResponse(c))
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// Health reports each domain's status; it is 200 as long as the process serves
func (h *RateHandler) Health(w http.ResponseWriter, r *http.Request) {
	domains := make(map[string]interface{}, len(h.providers))
	for name, p := range h.providers {
		state := p.State()
		domains[name] = map[string]interface{}{
			"status":         state.Status,
			"resolved":       state.Resolved(),
			"using_fallback": state.UsingFallback,
		}
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"domains": domains,
	})
}

// RegisterRoutes registers the rate handler routes
func (h *RateHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.HandleFunc("/rates/{domain}", h.GetRates).Methods("GET")
	router.HandleFunc("/rates/{domain}/refresh", h.RefreshRates).Methods("POST")
	router.HandleFunc("/rates/{domain}/convert", h.Convert).Methods("GET")
	router.HandleFunc("/rates/{domain}/history", h.GetHistory).Methods("GET")

	h.logger.Info("Rate routes registered", map[string]interface{}{
		"routes": []string{
			"GET /health",
			"GET /rates/{domain}",
			"POST /rates/{domain}/refresh",
			"GET /rates/{domain}/convert",
			"GET /rates/{domain}/history",
		},
	})
}
