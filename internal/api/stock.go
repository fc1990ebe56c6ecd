package api

import (
	"net/http"
	"strconv"

	"agrivet/m/domain"
	"agrivet/m/internal/adjustments"
	"agrivet/m/internal/purchasing"
	"agrivet/m/internal/sales"
)

// Sales handlers

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req sales.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}
	sale, err := h.svc.Sales.Create(r.Context(), req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sale)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	sale, err := h.svc.Sales.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

func (h *Handler) updateSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	var req sales.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}
	sale, err := h.svc.Sales.Update(r.Context(), id, req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

func (h *Handler) deleteSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if err := h.svc.Sales.Delete(r.Context(), id); err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Purchase order handlers

func (h *Handler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req purchasing.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}
	order, err := h.svc.Purchasing.CreateOrder(r.Context(), req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	order, err := h.svc.Purchasing.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) receivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	var req purchasing.ReceiveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}
	order, err := h.svc.Purchasing.Receive(r.Context(), id, req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) updatePurchaseOrderStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, "owner", "manager") {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	var payload struct {
		Status domain.OrderStatus `json:"status"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.respondErr(w, r, err)
		return
	}
	order, err := h.svc.Purchasing.UpdateStatus(r.Context(), id, payload.Status)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// Inventory lot handlers

func (h *Handler) createLot(w http.ResponseWriter, r *http.Request) {
	var req adjustments.CreateLotRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}
	lot, err := h.svc.Adjustments.CreateLot(r.Context(), req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, lot)
}

func (h *Handler) listLots(w http.ResponseWriter, r *http.Request) {
	var medicineID int64
	if raw := r.URL.Query().Get("medicine_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.respondErr(w, r, domain.Errorf(domain.ErrValidation, "invalid medicine_id %q", raw))
			return
		}
		medicineID = id
	}
	lots, err := h.svc.Adjustments.ListLots(r.Context(), medicineID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lots)
}

func (h *Handler) changeLotStock(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, "owner", "manager") {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	var payload struct {
		Delta int64 `json:"delta"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		h.respondErr(w, r, err)
		return
	}
	lot, err := h.svc.Adjustments.ChangeLotQuantity(r.Context(), id, payload.Delta)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lot)
}

// Adjustment handlers

func (h *Handler) createAdjustment(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, "owner", "manager") {
		return
	}
	var req adjustments.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}
	req.AdjustedBy = userID(r)
	adj, err := h.svc.Adjustments.Create(r.Context(), req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, adj)
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Adjustments.List(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}
