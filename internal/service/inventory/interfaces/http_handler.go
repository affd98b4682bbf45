package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"stockpile/internal/service/inventory/application"
	"stockpile/internal/service/inventory/domain"
)

const serviceName = "inventory-service"

// StockHandler 封装了库存服务的 HTTP 处理器
type StockHandler struct {
	service *application.StockAvailabilityService
}

// NewStockHandler 创建一个新的 HTTP 处理器实例
func NewStockHandler(service *application.StockAvailabilityService) *StockHandler {
	return &StockHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *StockHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/stock/availability", h.checkAvailability)
	mux.HandleFunc("/api/stock/bundle_availability", h.checkBundleAvailability)
	mux.HandleFunc("/api/stock/reserve", h.reserveStock)
	mux.HandleFunc("/api/stock/reserve_bundle", h.reserveBundle)
	mux.HandleFunc("/api/stock/release", h.releaseReservation)
	mux.HandleFunc("/api/stock/confirm", h.confirmReservation)
	mux.HandleFunc("/api/stock/receive", h.receiveStock)
	mux.HandleFunc("/api/stock/deduct", h.deductStock)
	mux.HandleFunc("/api/stock/reservations", h.listReservations)
	mux.HandleFunc("/api/stock/inventory", h.getInventory)
}

func (h *StockHandler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "inventory.CheckAvailability")
	defer span.End()

	skuID := r.URL.Query().Get("skuId")
	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "quantity must be an integer")
		return
	}

	available, err := h.service.CheckSingleOption(ctx, skuID, quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skuId": skuID, "available": available})
}

type bundleRequest struct {
	OrderID    string         `json:"orderId"`
	SkuMapping map[string]int `json:"skuMapping"`
	Sets       int            `json:"sets"`
}

func (h *StockHandler) checkBundleAvailability(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "inventory.CheckBundleAvailability")
	defer span.End()

	var req bundleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mapping, err := domain.NewSkuMapping(req.SkuMapping)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	availability, err := h.service.CheckBundleAvailability(ctx, mapping)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

type reserveRequest struct {
	SkuID    string `json:"skuId"`
	Quantity int    `json:"quantity"`
	OrderID  string `json:"orderId"`
}

func (h *StockHandler) reserveStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "inventory.ReserveStock")
	defer span.End()

	var req reserveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reservationID, err := h.service.ReserveStock(ctx, req.SkuID, req.Quantity, req.OrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservationId": reservationID})
}

func (h *StockHandler) reserveBundle(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "inventory.ReserveBundle")
	defer span.End()

	var req bundleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mapping, err := domain.NewSkuMapping(req.SkuMapping)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	option, err := domain.NewBundleOption(mapping)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	reservations, err := h.service.ReserveOption(ctx, option, req.Sets, req.OrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": reservations})
}

type reservationRequest struct {
	ReservationID string `json:"reservationId"`
}

func (h *StockHandler) releaseReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "inventory.ReleaseReservation")
	defer span.End()

	var req reservationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.service.ReleaseReservation(ctx, req.ReservationID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "released"})
}

func (h *StockHandler) confirmReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "inventory.ConfirmReservation")
	defer span.End()

	var req reservationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.service.ConfirmReservation(ctx, req.ReservationID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "confirmed"})
}

type adjustRequest struct {
	SkuID     string `json:"skuId"`
	Quantity  int    `json:"quantity"`
	Reference string `json:"reference"`
}

func (h *StockHandler) receiveStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "inventory.ReceiveStock")
	defer span.End()

	var req adjustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.service.ReceiveStock(ctx, req.SkuID, req.Quantity, req.Reference); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "received"})
}

func (h *StockHandler) deductStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "inventory.DeductStock")
	defer span.End()

	var req adjustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.service.DeductStock(ctx, req.SkuID, req.Quantity, req.Reference); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deducted"})
}

func (h *StockHandler) listReservations(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "inventory.ListReservations")
	defer span.End()

	orderID := r.URL.Query().Get("orderId")
	reservations, err := h.service.FindReservationsByOrder(ctx, orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(reservations))
	for _, res := range reservations {
		views = append(views, map[string]any{
			"reservationId": res.ID(),
			"skuId":         res.SkuID(),
			"quantity":      res.Quantity().Value(),
			"status":        string(res.Status()),
			"expiresAt":     res.ExpiresAt(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "reservations": views})
}

func (h *StockHandler) getInventory(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "inventory.GetInventory")
	defer span.End()

	skuID := r.URL.Query().Get("skuId")
	inventory, err := h.service.GetInventory(ctx, skuID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"skuId":    inventory.SkuID(),
		"total":    inventory.TotalQuantity().Value(),
		"reserved": inventory.ReservedQuantity().Value(),
		"available": inventory.AvailableQuantity().Value(),
	})
}

// startSpan 先从请求头恢复上游的追踪上下文，再开启本服务的 span。
func startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return otel.Tracer(serviceName).Start(ctx, name)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError 把领域错误的类别映射到 HTTP 状态码。
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.ErrKindInvalidQuantity:
		status = http.StatusBadRequest
	case domain.ErrKindInventoryNotFound, domain.ErrKindReservationNotFound:
		status = http.StatusNotFound
	case domain.ErrKindInsufficientStock, domain.ErrKindInvalidReservationState,
		domain.ErrKindInvalidInventoryState, domain.ErrKindConcurrencyConflict:
		status = http.StatusConflict
	case domain.ErrKindLockAcquisitionFailed:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}
