package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/ksred/tradewarden/internal/exchange"
	"github.com/ksred/tradewarden/internal/types"
)

var hardErrorFragments = []string{
	"insufficient",
	"unauthorized",
	"forbidden",
	"invalid",
	"not found",
	"denied",
	"signature",
	"duplicate",
	"rejected",
}

var softErrorFragments = []string{
	"timeout",
	"timed out",
	"deadline",
	"connection",
	"refused",
	"reset",
	"unavailable",
	"temporar",
	"eof",
	"too many requests",
}

// Classify maps a submission or lookup error to SOFT or HARD. HARD means
// the exchange authoritatively rejected the request and retrying cannot
// help; SOFT means the outcome is unknown and reconciliation can recover it.
//
// Unrecognized errors default to SOFT: treating an unknown failure as HARD
// would permanently abandon a claim that may have succeeded at the exchange.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized,
			apiErr.StatusCode == http.StatusForbidden,
			apiErr.StatusCode == http.StatusBadRequest,
			apiErr.StatusCode == http.StatusNotFound,
			apiErr.StatusCode == http.StatusPaymentRequired,
			apiErr.StatusCode == http.StatusUnprocessableEntity:
			return types.ErrorClassHard
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return types.ErrorClassSoft
		}
	}

	if errors.Is(err, exchange.ErrOrderNotFound) {
		return types.ErrorClassHard
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.ErrorClassSoft
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.ErrorClassSoft
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range hardErrorFragments {
		if strings.Contains(msg, fragment) {
			return types.ErrorClassHard
		}
	}
	for _, fragment := range softErrorFragments {
		if strings.Contains(msg, fragment) {
			return types.ErrorClassSoft
		}
	}

	return types.ErrorClassSoft
}
