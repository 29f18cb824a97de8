package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"dcabot/internal/engine"
	"dcabot/internal/exchange"
	"dcabot/internal/service"
)

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func boolQueryPtr(c *gin.Context, key string) *bool {
	if val := c.Query(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return &b
		}
	}
	return nil
}

func uint64Query(c *gin.Context, key string) *uint64 {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		if i, err := strconv.ParseUint(val, 10, 64); err == nil {
			return &i
		}
	}
	return nil
}

func idParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return 0, false
	}
	return id, true
}

// pageParams accepts either limit/offset or page/limit. page is 1-based.
func pageParams(c *gin.Context, defLimit int) (limit, offset int) {
	limit = intQuery(c, "limit", defLimit)
	if limit <= 0 {
		limit = defLimit
	}
	if limit > 200 {
		limit = 200
	}
	offset = intQuery(c, "offset", 0)
	if page := intQuery(c, "page", 0); page > 0 {
		offset = (page - 1) * limit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func paginationMeta(limit, offset int, total int64) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	hasNext := int64(offset+limit) < total
	page := 1
	if limit > 0 {
		page = offset/limit + 1
	}
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"page":     page,
		"total":    total,
		"has_next": hasNext,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidExchange),
		errors.Is(err, exchange.ErrUnsupportedExchange),
		errors.Is(err, exchange.ErrInvalidPair):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidLogin):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrConflict), errors.Is(err, engine.ErrAlreadyExecuting):
		return http.StatusConflict
	case errors.Is(err, engine.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	Error(c, statusFor(err), err.Error(), nil)
}
