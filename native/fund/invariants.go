package fund

import (
	"context"
	"fmt"
	"strings"
)

// reconcile compares the fund record with custody and with investor positions.
func reconcile(ctx context.Context, store *Store, vault Vault, f *Fund) (*ReconcileReport, error) {
	if !vault.Address().Equal(f.Vault) {
		return nil, fmt.Errorf("%w: fund %d vault %s does not match custody %s", ErrInvariantViolation, f.ID, f.Vault, vault.Address())
	}
	report := &ReconcileReport{FundID: f.ID, TotalShares: clone(f.TotalShares), Halted: f.Halted}
	for _, h := range f.Holdings {
		balance, err := vault.HoldBalance(ctx, h.Asset)
		if err != nil {
			return nil, fmt.Errorf("%w: hold balance %s: %w", ErrExternalCall, h.Asset, err)
		}
		if !balance.Eq(h.Amount) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{Asset: h.Asset, Ledger: clone(h.Amount), Vault: balance})
		}
	}
	sum, err := store.PositionSum(f.ID)
	if err != nil {
		return nil, err
	}
	report.PositionSum = sum
	report.Clean = len(report.Discrepancies) == 0 && sum.Eq(f.TotalShares)
	return report, nil
}

// Summary renders the report's failures on one line.
func (r *ReconcileReport) Summary() string {
	if r == nil || r.Clean {
		return "clean"
	}
	parts := make([]string, 0, len(r.Discrepancies)+1)
	for _, d := range r.Discrepancies {
		parts = append(parts, fmt.Sprintf("%s ledger=%s vault=%s", d.Asset, d.Ledger.Dec(), d.Vault.Dec()))
	}
	if !r.PositionSum.Eq(r.TotalShares) {
		parts = append(parts, fmt.Sprintf("shares total=%s positions=%s", r.TotalShares.Dec(), r.PositionSum.Dec()))
	}
	return strings.Join(parts, "; ")
}
