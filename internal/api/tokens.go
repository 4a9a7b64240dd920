package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// tokenView is a deployed token's public shape. holders is populated only
// by GET /token (listing every token doesn't need it).
type tokenView struct {
	tokenstore.TokenMeta
	Holders int `json:"holders,omitempty"`
}

// tokensPage is the GET /tokens response envelope.
type tokensPage struct {
	Tokens     []tokenView `json:"tokens"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalCount int         `json:"total_count"`
}

// handleTokens serves GET /tokens: every deployed token, optionally
// filtered by completion state and/or a tick substring search, sorted by
// sort_by, and paged.
func (s *Server) handleTokens(c echo.Context) error {
	page := queryInt(c, "page", firstPage)
	if page < firstPage {
		page = firstPage
	}
	pageSize := clampLimit(queryInt(c, "page_size", defaultPageSize), maxPageSize)

	search := strings.ToLower(c.QueryParam("search"))
	if len(search) > maxSearchLen {
		return echo.NewHTTPError(http.StatusBadRequest, "search must be at most 4 characters")
	}
	filterBy := c.QueryParam("filter_by")
	sortBy := c.QueryParam("sort_by")

	var all []tokenstore.TokenMeta
	if err := s.store.ForEachTokenMeta(func(meta tokenstore.TokenMeta) error {
		all = append(all, meta)
		return nil
	}); err != nil {
		return storeErr(err)
	}

	filtered := all[:0:0]
	for _, meta := range all {
		if search != "" && !strings.Contains(strings.ToLower(string(meta.Tick)), search) {
			continue
		}
		switch filterBy {
		case "completed":
			if meta.Supply.Cmp(meta.Max) < 0 {
				continue
			}
		case "in_progress":
			if meta.Supply.Cmp(meta.Max) >= 0 {
				continue
			}
		}
		filtered = append(filtered, meta)
	}

	sortTokens(filtered, sortBy)

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(filtered) {
		start = len(filtered)
	}
	if end > len(filtered) {
		end = len(filtered)
	}

	views := make([]tokenView, 0, end-start)
	for _, meta := range filtered[start:end] {
		views = append(views, tokenView{TokenMeta: meta})
	}

	return c.JSON(http.StatusOK, tokensPage{
		Tokens:     views,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: len(filtered),
	})
}

func sortTokens(tokens []tokenstore.TokenMeta, sortBy string) {
	less := func(i, j int) bool {
		return tokens[j].Height < tokens[i].Height // newest deploy first by default
	}
	switch sortBy {
	case "tick":
		less = func(i, j int) bool { return tokens[i].Tick < tokens[j].Tick }
	case "supply":
		less = func(i, j int) bool { return tokens[j].Supply.Cmp(tokens[i].Supply) < 0 }
	case "mint_count":
		less = func(i, j int) bool { return tokens[j].MintCount < tokens[i].MintCount }
	case "transactions":
		less = func(i, j int) bool { return tokens[j].Transactions < tokens[i].Transactions }
	case "deploy_time_asc":
		less = func(i, j int) bool { return tokens[i].Created < tokens[j].Created }
	case "deploy_time_desc":
		less = func(i, j int) bool { return tokens[j].Created < tokens[i].Created }
	}
	sort.Slice(tokens, less)
}

// handleToken serves GET /token?tick=...: one token's record plus its
// current holder count from the in-memory index.
func (s *Server) handleToken(c echo.Context) error {
	tick, err := tickParam(c.QueryParam("tick"))
	if err != nil {
		return err
	}

	meta, err := s.store.GetTokenMeta(tick)
	if err != nil {
		return storeErr(err)
	}

	return c.JSON(http.StatusOK, tokenView{TokenMeta: meta, Holders: s.idx.Count(tick)})
}

// handleTokenProof serves GET /token/proof/{addr}/{outpoint}: every
// active transferable the address holds whose creation outpoint is at or
// after the given one, in location order.
func (s *Server) handleTokenProof(c echo.Context) error {
	owner, err := s.resolveAddr(c)
	if err != nil {
		return err
	}
	from, err := parseOutpoint(c.Param("outpoint"))
	if err != nil {
		return err
	}

	out := []activeTransferView{}
	walkErr := s.store.ForEachActiveTransfer(owner, func(loc domain.Location, at tokenstore.ActiveTransfer) error {
		if outpointLess(loc.Outpoint, from) {
			return nil
		}
		out = append(out, toActiveTransferView(loc, at))
		return nil
	})
	if walkErr != nil {
		return storeErr(walkErr)
	}
	return c.JSON(http.StatusOK, out)
}
