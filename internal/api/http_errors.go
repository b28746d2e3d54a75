package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatParse, core.ErrCatConfig:
		return http.StatusBadRequest, true
	case core.ErrCatActionUnavailable:
		return http.StatusConflict, true
	case core.ErrCatHostCallFailed:
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondDomainError maps err to a status code and writes it as JSON.
func respondDomainError(w http.ResponseWriter, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	respondError(w, status, err.Error())
}
