package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// defaultPageSize and firstPage match the upstream query defaults: a page
// is 1-indexed and six rows wide unless the caller overrides it.
const (
	defaultPageSize = 6
	firstPage       = 1
	maxPageSize     = 20
	maxHistoryLimit = 100
	maxPOHLimit     = 100
	maxSearchLen    = 4
)

// resolveAddr pulls the :addr path param and normalizes it to a
// FullHash via the three accepted formats (§6.1).
func (s *Server) resolveAddr(c echo.Context) (domain.FullHash, error) {
	raw := c.Param("addr")
	h, err := ResolveScriptHash(raw, s.network)
	if err != nil {
		return domain.FullHash{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h, nil
}

// tickParam validates and canonicalizes a tick query/path parameter.
func tickParam(raw string) (domain.LowerCaseTick, error) {
	if len(raw) != domain.TickSize {
		return "", echo.NewHTTPError(http.StatusBadRequest, "tick must be exactly 4 characters")
	}
	return domain.TokenTick(raw).Canonical(), nil
}

func queryUint(c echo.Context, name string, fallback uint64) uint64 {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// storeErr maps a tokenstore error to the right HTTP status: a missing
// row is a 404, anything else is a 500 (a StoreError is fatal to the
// process per the error taxonomy, but a single handler still reports it
// rather than aborting the server).
func storeErr(err error) error {
	if errors.Is(err, tokenstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
