package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/choosenname/bel-20-indexer/internal/domain"
)

// holderView is one ranked holder's row in the GET /holders listing.
type holderView struct {
	Rank    int             `json:"rank"`
	Address string          `json:"address"`
	Balance domain.Fixed128 `json:"balance"`
	Percent float64         `json:"percent"`
}

type holdersPage struct {
	Tick       domain.LowerCaseTick `json:"tick"`
	Holders    []holderView         `json:"holders"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	TotalCount int                  `json:"total_count"`
}

// handleHolders serves GET /holders: the tick's holder set ranked by
// balance descending, each row annotated with its share of total supply.
func (s *Server) handleHolders(c echo.Context) error {
	tick, err := tickParam(c.QueryParam("tick"))
	if err != nil {
		return err
	}
	page := queryInt(c, "page", firstPage)
	if page < firstPage {
		page = firstPage
	}
	pageSize := clampLimit(queryInt(c, "page_size", defaultPageSize), maxPageSize)

	meta, err := s.store.GetTokenMeta(tick)
	if err != nil {
		return storeErr(err)
	}

	offset := (page - 1) * pageSize
	entries := s.idx.Page(tick, offset, pageSize)

	views := make([]holderView, 0, len(entries))
	for i, e := range entries {
		addr, addrErr := s.store.GetResolvedAddress(e.Owner)
		if addrErr != nil {
			addr = e.Owner.String()
		}
		views = append(views, holderView{
			Rank:    offset + i,
			Address: addr,
			Balance: e.Total,
			Percent: percentOf(e.Total, meta.Supply),
		})
	}

	return c.JSON(http.StatusOK, holdersPage{
		Tick:       tick,
		Holders:    views,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: s.idx.Count(tick),
	})
}

// percentOf returns part/whole*100 as a float64, or 0 if whole is zero.
// Fixed128 carries no float conversion of its own, so this decodes the
// decimal strings directly; precision beyond float64 doesn't matter for
// a display percentage.
func percentOf(part, whole domain.Fixed128) float64 {
	if whole.IsZero() {
		return 0
	}
	p, errP := strconv.ParseFloat(part.String(), 64)
	w, errW := strconv.ParseFloat(whole.String(), 64)
	if errP != nil || errW != nil || w == 0 {
		return 0
	}
	return p / w * 100
}
