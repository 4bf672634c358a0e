package intake

import (
	"net/http"
	"time"

	"escrow_go/internal/event"

	"github.com/gorilla/mux"
)

type offerRequest struct {
	UnitPrice int64 `json:"unit_price"`
	Amount    int64 `json:"amount"`
}

type orderRequest struct {
	Amount    int64 `json:"amount"`
	PaidValue int64 `json:"paid_value"`
}

func base(r *http.Request, caller string) event.BaseEvent {
	return event.BaseEvent{Caller: caller, ItemID: mux.Vars(r)["item"]}
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request, caller string) {
	var req offerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	s.submit(w, r, caller, &event.OfferEvent{BaseEvent: base(r, caller), UnitPrice: req.UnitPrice, Amount: req.Amount})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request, caller string) {
	var req orderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	s.submit(w, r, caller, &event.OrderEvent{BaseEvent: base(r, caller), Amount: req.Amount, PaidValue: req.PaidValue})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, caller string) {
	s.submit(w, r, caller, &event.CompleteEvent{BaseEvent: base(r, caller)})
}

func (s *Server) handleComplain(w http.ResponseWriter, r *http.Request, caller string) {
	s.submit(w, r, caller, &event.ComplainEvent{BaseEvent: base(r, caller)})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	li, err := s.eng.GetListing(mux.Vars(r)["item"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, li)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, caller string) {
	o, err := s.eng.GetOrder(mux.Vars(r)["item"], caller)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, caller string) {
	writeJSON(w, http.StatusOK, s.eng.History(mux.Vars(r)["item"], caller))
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if s.opts.Catalog == nil {
		writeError(w, http.StatusNotFound, "catalog disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Catalog.GetAll())
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request, caller string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": caller,
		"balance":  s.eng.Balance(caller),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Metrics.Snapshot())
}
