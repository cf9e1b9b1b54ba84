package server

import (
	"errors"
	"net/http"

	nativecommon "traderchain/native/common"
	"traderchain/native/custody"
	"traderchain/native/fund"
)

// errorStatus maps engine error classes onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, fund.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fund.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, fund.ErrFundHalted), errors.Is(err, fund.ErrInvariantViolation):
		return http.StatusConflict
	case errors.Is(err, custody.ErrInsufficientBalance), errors.Is(err, custody.ErrInsufficientAllowance):
		return http.StatusBadRequest
	case errors.Is(err, fund.ErrValidation), errors.Is(err, fund.ErrArithmeticOverflow):
		return http.StatusBadRequest
	case errors.Is(err, fund.ErrExternalCall):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
