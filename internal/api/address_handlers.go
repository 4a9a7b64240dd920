package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// activeTransferView is the wire shape of one active transferable.
type activeTransferView struct {
	Location domain.Location      `json:"location"`
	Tick     domain.LowerCaseTick `json:"tick"`
	Amount   domain.Fixed128      `json:"amount"`
	Height   uint32               `json:"height"`
}

func toActiveTransferView(loc domain.Location, at tokenstore.ActiveTransfer) activeTransferView {
	return activeTransferView{Location: loc, Tick: at.Tick, Amount: at.Amt, Height: at.Height}
}

// addressTokenBalance is one tick's position inside a GET /address
// response.
type addressTokenBalance struct {
	Tick                domain.LowerCaseTick `json:"tick"`
	Balance             domain.Fixed128      `json:"balance"`
	TransferableBalance domain.Fixed128      `json:"transferable_balance"`
	TransfersCount      uint64               `json:"transfers_count"`
}

type addressResponse struct {
	Tokens    []addressTokenBalance `json:"tokens"`
	Transfers []activeTransferView  `json:"transfers"`
}

// handleAddress serves both GET /address/{addr} and GET
// /address/{addr}/tokens: every tick balance the address has ever
// touched, plus every transferable it currently holds.
func (s *Server) handleAddress(c echo.Context) error {
	owner, err := s.resolveAddr(c)
	if err != nil {
		return err
	}

	resp := addressResponse{Tokens: []addressTokenBalance{}, Transfers: []activeTransferView{}}
	walkErr := s.store.ForEachBalance(owner, func(tick domain.LowerCaseTick, bal tokenstore.Balance) error {
		resp.Tokens = append(resp.Tokens, addressTokenBalance{
			Tick:                tick,
			Balance:             bal.Balance,
			TransferableBalance: bal.TransferableBalance,
			TransfersCount:      bal.TransfersCount,
		})
		return nil
	})
	if walkErr != nil {
		return storeErr(walkErr)
	}

	walkErr = s.store.ForEachActiveTransfer(owner, func(loc domain.Location, at tokenstore.ActiveTransfer) error {
		resp.Transfers = append(resp.Transfers, toActiveTransferView(loc, at))
		return nil
	})
	if walkErr != nil {
		return storeErr(walkErr)
	}

	return c.JSON(http.StatusOK, resp)
}

// handleAddressHistory serves GET /address/{addr}/history: descending
// history for one (addr, tick) pair, paged by a before-id cursor.
func (s *Server) handleAddressHistory(c echo.Context) error {
	owner, err := s.resolveAddr(c)
	if err != nil {
		return err
	}
	tick, err := tickParam(c.QueryParam("tick"))
	if err != nil {
		return err
	}

	before := queryUint(c, "offset", 0)
	limit := clampLimit(queryInt(c, "limit", maxHistoryLimit), maxHistoryLimit)

	rows, err := s.store.HistoryPageByOwnerTick(owner, tick, before, limit)
	if err != nil {
		return storeErr(err)
	}
	if rows == nil {
		rows = []tokenstore.HistoryRow{}
	}
	return c.JSON(http.StatusOK, rows)
}

// handleAddressTicks serves GET /address/{addr}/tokens-tick: every tick
// string the address has ever held a balance record for.
func (s *Server) handleAddressTicks(c echo.Context) error {
	owner, err := s.resolveAddr(c)
	if err != nil {
		return err
	}

	ticks := []domain.LowerCaseTick{}
	walkErr := s.store.ForEachBalance(owner, func(tick domain.LowerCaseTick, _ tokenstore.Balance) error {
		ticks = append(ticks, tick)
		return nil
	})
	if walkErr != nil {
		return storeErr(walkErr)
	}
	return c.JSON(http.StatusOK, ticks)
}

// tickBalanceResponse is the §6.1 GET /address/{addr}/{tick}/balance shape.
type tickBalanceResponse struct {
	Tick                domain.LowerCaseTick `json:"tick"`
	Balance             domain.Fixed128      `json:"balance"`
	TransferableBalance domain.Fixed128      `json:"transferable_balance"`
	Transfers           []activeTransferView `json:"transfers"`
	TransfersCount      uint64               `json:"transfers_count"`
}

// handleAddressTickBalance serves GET /address/{addr}/{tick}/balance. An
// optional offset outpoint ("txid:vout") pages the transfer list,
// returning only transfers whose creation outpoint is not before it.
func (s *Server) handleAddressTickBalance(c echo.Context) error {
	owner, err := s.resolveAddr(c)
	if err != nil {
		return err
	}
	tick, err := tickParam(c.Param("tick"))
	if err != nil {
		return err
	}

	bal, err := s.store.GetBalance(owner, tick)
	if err != nil {
		return storeErr(err)
	}

	var after *domain.Outpoint
	if raw := c.QueryParam("offset"); raw != "" {
		o, parseErr := parseOutpoint(raw)
		if parseErr != nil {
			return parseErr
		}
		after = &o
	}

	transfers := []activeTransferView{}
	walkErr := s.store.ForEachActiveTransfer(owner, func(loc domain.Location, at tokenstore.ActiveTransfer) error {
		if at.Tick != tick {
			return nil
		}
		if after != nil && outpointLess(loc.Outpoint, *after) {
			return nil
		}
		transfers = append(transfers, toActiveTransferView(loc, at))
		return nil
	})
	if walkErr != nil {
		return storeErr(walkErr)
	}

	return c.JSON(http.StatusOK, tickBalanceResponse{
		Tick:                tick,
		Balance:             bal.Balance,
		TransferableBalance: bal.TransferableBalance,
		Transfers:           transfers,
		TransfersCount:      bal.TransfersCount,
	})
}

func parseOutpoint(raw string) (domain.Outpoint, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return domain.Outpoint{}, echo.NewHTTPError(http.StatusBadRequest, "outpoint must be txid:vout")
	}
	txid, err := domain.HexToTxHash(parts[0])
	if err != nil {
		return domain.Outpoint{}, echo.NewHTTPError(http.StatusBadRequest, "invalid outpoint txid")
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return domain.Outpoint{}, echo.NewHTTPError(http.StatusBadRequest, "invalid outpoint vout")
	}
	return domain.Outpoint{TxID: txid, Vout: uint32(vout)}, nil
}

// outpointLess orders outpoints the same way outpointBytes does: txid
// bytes first, then vout.
func outpointLess(a, b domain.Outpoint) bool {
	for i := range a.TxID {
		if a.TxID[i] != b.TxID[i] {
			return a.TxID[i] < b.TxID[i]
		}
	}
	return a.Vout < b.Vout
}
