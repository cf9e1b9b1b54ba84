package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"traderchain/core"
	"traderchain/crypto"
	"traderchain/native/fund"
	"traderchain/native/registry"
	"traderchain/services/fundd/storage"
)

type holdingResponse struct {
	Asset  string `json:"asset"`
	Amount Amount `json:"amount"`
	Value  Amount `json:"value"`
}

type fundResponse struct {
	ID           uint64            `json:"id"`
	Trader       string            `json:"trader"`
	BaseCurrency string            `json:"base_currency"`
	Vault        string            `json:"vault"`
	TotalShares  Amount            `json:"total_shares"`
	NAV          Amount            `json:"nav"`
	SharePrice   Amount            `json:"share_price"`
	Holdings     []holdingResponse `json:"holdings"`
	Halted       bool              `json:"halted"`
	HaltReason   string            `json:"halt_reason,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ValuedAt     time.Time         `json:"valued_at"`
}

type assetResponse struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Base     bool   `json:"base"`
}

// decimals returns the registered precision of asset. Unknown assets report
// zero; the engine rejects them with a validation error.
func (s *Server) decimals(asset string) uint8 {
	a, err := s.engine.Registry().Asset(asset)
	if err != nil {
		return 0
	}
	return a.Decimals
}

func (s *Server) parseAmount(raw, asset string) (*uint256.Int, error) {
	return ToUnits(raw, s.decimals(asset))
}

func (s *Server) fundView(f *fund.Fund, snap *fund.Snapshot) fundResponse {
	baseDec := s.decimals(f.BaseCurrency)
	out := fundResponse{
		ID:           f.ID,
		Trader:       f.Trader.String(),
		BaseCurrency: f.BaseCurrency,
		Vault:        f.Vault.String(),
		TotalShares:  newAmount(f.TotalShares, baseDec),
		Halted:       f.Halted,
		HaltReason:   f.HaltReason,
		CreatedAt:    f.CreatedAt,
		Holdings:     []holdingResponse{},
	}
	if snap != nil {
		out.NAV = newAmount(snap.NAV, baseDec)
		out.SharePrice = newAmount(snap.SharePrice, baseDec)
		out.ValuedAt = snap.At
		for _, h := range snap.Holdings {
			out.Holdings = append(out.Holdings, holdingResponse{
				Asset:  h.Asset,
				Amount: newAmount(h.Amount, s.decimals(h.Asset)),
				Value:  newAmount(h.Value, baseDec),
			})
		}
	}
	return out
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	reg := s.engine.Registry()
	assets := reg.Assets()
	out := make([]assetResponse, 0, len(assets))
	for _, a := range assets {
		out = append(out, assetResponse{Symbol: a.Symbol, Decimals: a.Decimals, Base: reg.IsBaseCurrency(a.Symbol)})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"assets": out, "base_currencies": reg.BaseCurrencies()})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	route, err := s.engine.Route(from, to)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	hops := make([]string, 0, len(route.Hops)+1)
	if len(route.Hops) > 0 {
		hops = append(hops, route.From())
		for _, hop := range route.Hops {
			hops = append(hops, hop.TokenOut)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"from":    registry.NormalizeSymbol(from),
		"to":      registry.NormalizeSymbol(to),
		"path":    hops,
		"fee_ppm": route.Fee(),
		"route":   route.String(),
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base := q.Get("base")
	asset := q.Get("asset")
	raw := q.Get("amount")
	if raw == "" {
		raw = "1"
	}
	amount, err := s.parseAmount(raw, asset)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := s.engine.AssetPrice(r.Context(), base, asset, amount)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"asset":  registry.NormalizeSymbol(asset),
		"base":   registry.NormalizeSymbol(base),
		"amount": newAmount(amount, s.decimals(asset)),
		"value":  newAmount(value, s.decimals(base)),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	asset := registry.NormalizeSymbol(chi.URLParam(r, "asset"))
	var balance *uint256.Int
	err = s.backend.ViewLocal(r.Context(), func(tx *core.Tx) error {
		var err error
		balance, err = tx.Ledger().Balance(addr, asset)
		return err
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"account": addr.String(),
		"asset":   asset,
		"balance": newAmount(balance, s.decimals(asset)),
	})
}

func (s *Server) handleListFunds(w http.ResponseWriter, r *http.Request) {
	var (
		ids []uint64
		err error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("trader")); raw != "" {
		trader, decodeErr := crypto.DecodeAddress(raw)
		if decodeErr != nil {
			s.writeError(w, http.StatusBadRequest, "invalid trader address")
			return
		}
		ids, err = s.engine.TraderFunds(r.Context(), trader)
	} else {
		ids, err = s.engine.Funds(r.Context())
	}
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"funds": ids})
}

func (s *Server) handleCreateFund(w http.ResponseWriter, r *http.Request) {
	trader, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		BaseCurrency string `json:"base_currency"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	created, err := s.engine.CreateFund(r.Context(), trader, req.BaseCurrency)
	s.observe("create_fund", start, err)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.fundView(created, nil))
}

func (s *Server) handleGetFund(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFundID(w, r)
	if !ok {
		return
	}
	f, err := s.engine.Fund(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	snap, err := s.engine.Snapshot(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.fundView(f, snap))
}

func (s *Server) handleHolding(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFundID(w, r)
	if !ok {
		return
	}
	asset := registry.NormalizeSymbol(chi.URLParam(r, "asset"))
	f, err := s.engine.Fund(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	value, err := s.engine.AssetValue(r.Context(), id, asset)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, holdingResponse{
		Asset:  asset,
		Amount: newAmount(f.Held(asset), s.decimals(asset)),
		Value:  newAmount(value, s.decimals(f.BaseCurrency)),
	})
}

func (s *Server) handleInvestor(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFundID(w, r)
	if !ok {
		return
	}
	investor, err := crypto.DecodeAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	f, err := s.engine.Fund(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	shares, err := s.engine.InvestorShares(r.Context(), id, investor)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"fund_id":  id,
		"investor": investor.String(),
		"shares":   newAmount(shares, s.decimals(f.BaseCurrency)),
	})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFundID(w, r)
	if !ok {
		return
	}
	depositor, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := s.parseAmount(req.Amount, req.Asset)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := s.engine.Fund(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	start := time.Now()
	shares, err := s.engine.BuyShares(r.Context(), id, depositor, req.Asset, amount)
	s.observe("buy_shares", start, err)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"fund_id": id,
		"shares":  newAmount(shares, s.decimals(f.BaseCurrency)),
	})
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFundID(w, r)
	if !ok {
		return
	}
	investor, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Shares      string `json:"shares"`
		PayoutAsset string `json:"payout_asset"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := s.engine.Fund(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	shares, err := s.parseAmount(req.Shares, f.BaseCurrency)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	out, err := s.engine.SellShares(r.Context(), id, investor, shares, req.PayoutAsset)
	s.observe("sell_shares", start, err)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"fund_id":    id,
		"asset":      registry.NormalizeSymbol(req.PayoutAsset),
		"amount_out": newAmount(out, s.decimals(req.PayoutAsset)),
	})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFundID(w, r)
	if !ok {
		return
	}
	trader, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		TokenIn  string `json:"token_in"`
		TokenOut string `json:"token_out"`
		Amount   string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := s.parseAmount(req.Amount, req.TokenIn)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	out, err := s.engine.PlaceOrder(r.Context(), id, trader, req.TokenIn, req.TokenOut, amount)
	s.observe("place_order", start, err)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"fund_id":    id,
		"token_in":   registry.NormalizeSymbol(req.TokenIn),
		"token_out":  registry.NormalizeSymbol(req.TokenOut),
		"amount_in":  newAmount(amount, s.decimals(req.TokenIn)),
		"amount_out": newAmount(out, s.decimals(req.TokenOut)),
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFundID(w, r)
	if !ok {
		return
	}
	start := time.Now()
	report, err := s.engine.Reconcile(r.Context(), id)
	s.observe("reconcile", start, err)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	discrepancies := make([]map[string]string, 0, len(report.Discrepancies))
	for _, d := range report.Discrepancies {
		discrepancies = append(discrepancies, map[string]string{
			"asset":  d.Asset,
			"ledger": d.Ledger.Dec(),
			"vault":  d.Vault.Dec(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"fund_id":       id,
		"clean":         report.Clean,
		"halted":        report.Halted,
		"total_shares":  report.TotalShares.Dec(),
		"position_sum":  report.PositionSum.Dec(),
		"discrepancies": discrepancies,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFundID(w, r)
	if !ok {
		return
	}
	if s.journal == nil {
		s.writeError(w, http.StatusNotImplemented, "journal not configured")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ops, err := s.journal.Operations(r.Context(), id, limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if ops == nil {
		ops = []storage.Operation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"fund_id": id, "operations": ops})
}

func (s *Server) handleNAVHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFundID(w, r)
	if !ok {
		return
	}
	if s.journal == nil {
		s.writeError(w, http.StatusNotImplemented, "journal not configured")
		return
	}
	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snaps, err := s.journal.Snapshots(r.Context(), id, since, limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []storage.NAVSnapshot{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"fund_id": id, "snapshots": snaps})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFundID(w, r)
	if !ok {
		return
	}
	if s.journal == nil || s.exportDir == "" {
		s.writeError(w, http.StatusNotImplemented, "export not configured")
		return
	}
	if _, err := s.engine.Fund(r.Context(), id); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	path, rows, err := s.journal.ExportOperations(r.Context(), id, s.exportDir)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"fund_id": id, "path": path, "rows": rows})
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &queryError{key: key}
	}
	return v, nil
}

type queryError struct {
	key string
}

func (e *queryError) Error() string {
	return e.key + " must be a non-negative integer"
}
