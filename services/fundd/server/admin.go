package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"traderchain/core"
	"traderchain/crypto"
	"traderchain/native/exchange"
	"traderchain/native/registry"
)

// handleCredit mints a custody balance. It stands in for external deposits
// when fundd runs as a standalone venue.
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := crypto.DecodeAddress(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid account")
		return
	}
	asset := registry.NormalizeSymbol(req.Asset)
	if !s.engine.Registry().IsSupported(asset) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("asset %q not supported", req.Asset))
		return
	}
	amount, err := s.parseAmount(req.Amount, asset)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var balance *uint256.Int
	err = s.backend.UpdateLocal(r.Context(), func(tx *core.Tx) error {
		if err := tx.Ledger().Credit(account, asset, amount); err != nil {
			return err
		}
		var err error
		balance, err = tx.Ledger().Balance(account, asset)
		return err
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.logger.Info("account credited", "addr", account.String(), "asset", asset, "amount", amount.Dec())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"account": account.String(),
		"asset":   asset,
		"balance": newAmount(balance, s.decimals(asset)),
	})
}

// handleCreatePool opens an exchange pool for a registered pair and seeds it
// from the caller's custody balance.
func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		TokenA  string `json:"token_a"`
		TokenB  string `json:"token_b"`
		Kind    string `json:"kind"`
		RateA   string `json:"rate_a"`
		RateB   string `json:"rate_b"`
		AmountA string `json:"amount_a"`
		AmountB string `json:"amount_b"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a := registry.NormalizeSymbol(req.TokenA)
	b := registry.NormalizeSymbol(req.TokenB)
	fee, registered := s.registeredFee(a, b)
	if !registered {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("pair %s/%s is not a registered pool", a, b))
		return
	}
	spec := exchange.PoolSpec{TokenA: a, TokenB: b, Kind: exchange.PoolKind(strings.TrimSpace(req.Kind)), Fee: fee}
	if spec.Kind == exchange.KindFixedRate {
		var err error
		if spec.RateA, err = s.parseAmount(req.RateA, a); err != nil {
			s.writeError(w, http.StatusBadRequest, "rate_a: "+err.Error())
			return
		}
		if spec.RateB, err = s.parseAmount(req.RateB, b); err != nil {
			s.writeError(w, http.StatusBadRequest, "rate_b: "+err.Error())
			return
		}
	}
	amountA, errA := s.optionalAmount(req.AmountA, a)
	amountB, errB := s.optionalAmount(req.AmountB, b)
	if errA != nil || errB != nil {
		s.writeError(w, http.StatusBadRequest, "invalid liquidity amount")
		return
	}
	var pool *exchange.Pool
	err := s.backend.UpdateLocal(r.Context(), func(tx *core.Tx) error {
		var err error
		if pool, err = tx.Router().CreatePool(spec); err != nil {
			return err
		}
		if amountA.IsZero() && amountB.IsZero() {
			return nil
		}
		pool, err = tx.Router().AddLiquidity(r.Context(), provider, a, b, amountA, amountB)
		return err
	})
	if err != nil {
		s.writeError(w, poolErrorStatus(err), err.Error())
		return
	}
	s.logger.Info("exchange pool created", "asset", a+"/"+b, "addr", provider.String())
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"token_a":   pool.TokenA,
		"token_b":   pool.TokenB,
		"kind":      string(pool.Kind),
		"fee_ppm":   pool.Fee,
		"reserve_a": newAmount(pool.ReserveA, s.decimals(pool.TokenA)),
		"reserve_b": newAmount(pool.ReserveB, s.decimals(pool.TokenB)),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Module string `json:"module"`
		Paused bool   `json:"paused"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	module := strings.ToLower(strings.TrimSpace(req.Module))
	if module == "" {
		s.writeError(w, http.StatusBadRequest, "module required")
		return
	}
	s.pauses.Set(module, req.Paused)
	s.logger.Warn("module pause toggled", "component", module, "paused", req.Paused)
	s.writeJSON(w, http.StatusOK, map[string]any{"module": module, "paused": s.pauses.IsPaused(module)})
}

// registeredFee reports the fee of the direct registry pool between a and b.
func (s *Server) registeredFee(a, b string) (uint32, bool) {
	for _, p := range s.engine.Registry().Pools() {
		if (p.TokenA == a && p.TokenB == b) || (p.TokenA == b && p.TokenB == a) {
			return p.Fee, true
		}
	}
	return 0, false
}

func (s *Server) optionalAmount(raw, asset string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return new(uint256.Int), nil
	}
	return s.parseAmount(raw, asset)
}

func poolErrorStatus(err error) int {
	switch {
	case errorStatus(err) == http.StatusBadRequest:
		return http.StatusBadRequest
	case isAny(err, exchange.ErrPoolExists):
		return http.StatusConflict
	case isAny(err, exchange.ErrInvalidPool, exchange.ErrInvalidAmount, exchange.ErrOverflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
