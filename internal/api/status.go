package api

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// statusResponse is the §6.1 GET /status shape.
type statusResponse struct {
	Height    uint32 `json:"height"`
	Proof     string `json:"proof"`
	BlockHash string `json:"blockhash"`
}

func (s *Server) handleStatus(c echo.Context) error {
	height, ok, err := s.store.LastBlock()
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return c.JSON(http.StatusOK, statusResponse{})
	}

	poh, err := s.store.GetProofOfHistory(height)
	if err != nil {
		return storeErr(err)
	}
	blockHash, err := s.store.GetBlockHash(height)
	if err != nil {
		return storeErr(err)
	}

	return c.JSON(http.StatusOK, statusResponse{
		Height:    height,
		Proof:     hex.EncodeToString(poh[:]),
		BlockHash: blockHash.String(),
	})
}

// pohEntry is one row of the §6.1 GET /proof-of-history listing.
type pohEntry struct {
	Height uint32 `json:"height"`
	Hash   string `json:"hash"`
}

// handleProofOfHistory walks heights in descending order starting from
// the chain tip minus offset, up to limit entries.
func (s *Server) handleProofOfHistory(c echo.Context) error {
	tip, ok, err := s.store.LastBlock()
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return c.JSON(http.StatusOK, []pohEntry{})
	}

	offset := queryUint(c, "offset", 0)
	limit := clampLimit(queryInt(c, "limit", maxPOHLimit), maxPOHLimit)

	if offset >= uint64(tip)+1 {
		return c.JSON(http.StatusOK, []pohEntry{})
	}
	start := uint32(uint64(tip) - offset)

	out := make([]pohEntry, 0, limit)
	for h := start; len(out) < limit; h-- {
		poh, err := s.store.GetProofOfHistory(h)
		if err == nil {
			out = append(out, pohEntry{Height: h, Hash: hex.EncodeToString(poh[:])})
		}
		if h == 0 {
			break
		}
	}
	return c.JSON(http.StatusOK, out)
}

// handleEventsByHeight returns every history row recorded for a block,
// in insertion order.
func (s *Server) handleEventsByHeight(c echo.Context) error {
	height, err := parseHeight(c.Param("height"))
	if err != nil {
		return err
	}

	keys, err := s.store.BlockEventKeys(height)
	if err != nil {
		return storeErr(err)
	}

	rows := make([]tokenstore.HistoryRow, 0, len(keys))
	for _, key := range keys {
		row, err := s.store.HistoryRowByKey(key)
		if err != nil {
			return storeErr(err)
		}
		rows = append(rows, row)
	}
	return c.JSON(http.StatusOK, rows)
}

// handleTxID returns every history row touching a transaction, sorted by
// insertion id.
func (s *Server) handleTxID(c echo.Context) error {
	txid, err := domain.HexToTxHash(c.Param("txid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid txid")
	}

	var rows []tokenstore.HistoryRow
	if err := s.store.ForEachHistoryByTxID(txid, func(row tokenstore.HistoryRow) error {
		rows = append(rows, row)
		return nil
	}); err != nil {
		return storeErr(err)
	}
	if rows == nil {
		rows = []tokenstore.HistoryRow{}
	}
	return c.JSON(http.StatusOK, rows)
}

func parseHeight(raw string) (uint32, error) {
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid height")
	}
	return uint32(n), nil
}
