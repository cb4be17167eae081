package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Rainbow-0328/dianping/internal/domain"
)

// ShopService serves shop reads and updates.
type ShopService interface {
	QueryByID(ctx context.Context, id int64) (*domain.Shop, error)
	Update(ctx context.Context, shop *domain.Shop) error
}

// Claimer runs the seckill flow.
type Claimer interface {
	SeckillVoucher(ctx context.Context, voucherID int64, user domain.User) (int64, error)
}

// VoucherWriter persists seckill vouchers.
type VoucherWriter interface {
	SaveSeckillVoucher(ctx context.Context, v *domain.SeckillVoucher) error
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the shop and seckill endpoints.
type Handler struct {
	Shops    ShopService
	Seckill  Claimer
	Vouchers VoucherWriter
	Identity Identity
	Health   map[string]Pinger

	// claimLimit wraps the claim route when rate limiting is on.
	claimLimit func(http.Handler) http.Handler
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /shop/{id}", h.GetShop)
	mux.HandleFunc("PUT /shop", h.UpdateShop)
	mux.HandleFunc("POST /voucher/seckill", h.AddSeckillVoucher)
	var claim http.Handler = http.HandlerFunc(h.ClaimVoucher)
	if h.claimLimit != nil {
		claim = h.claimLimit(claim)
	}
	mux.Handle("POST /voucher-order/seckill/{id}", claim)
	mux.HandleFunc("GET /health", h.HealthCheck)
}

// GetShop handles GET /shop/{id}
func (h *Handler) GetShop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	shop, err := h.Shops.QueryByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, shop)
}

// UpdateShop handles PUT /shop
func (h *Handler) UpdateShop(w http.ResponseWriter, r *http.Request) {
	var shop domain.Shop
	if err := json.NewDecoder(r.Body).Decode(&shop); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.Shops.Update(r.Context(), &shop); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, nil)
}

// AddSeckillVoucher handles POST /voucher/seckill
func (h *Handler) AddSeckillVoucher(w http.ResponseWriter, r *http.Request) {
	var v domain.SeckillVoucher
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := v.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Vouchers.SaveSeckillVoucher(r.Context(), &v); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, v.VoucherID)
}

// ClaimVoucher handles POST /voucher-order/seckill/{id}
func (h *Handler) ClaimVoucher(w http.ResponseWriter, r *http.Request) {
	user, ok := h.Identity.User(r)
	if !ok {
		writeFail(w, http.StatusUnauthorized, "login required")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	orderID, err := h.Seckill.SeckillVoucher(r.Context(), id, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, orderID)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true
	for name, p := range h.Health {
		if err := p.Ping(r.Context()); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, Result{Success: false, ErrorMsg: "unhealthy", Data: status})
		return
	}
	writeOK(w, status)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeFail(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
