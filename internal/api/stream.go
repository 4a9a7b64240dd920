package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/events"
	"github.com/choosenname/bel-20-indexer/internal/log"
)

// eventFilter is the optional POST /events request body: an empty filter
// passes every event, a populated one restricts history events to the
// named addresses and/or ticks.
type eventFilter struct {
	Addresses []string             `json:"addresses"`
	Tokens    []domain.LowerCaseTick `json:"tokens"`
}

func (f eventFilter) matches(ev events.ServerEvent) bool {
	if ev.History == nil {
		return true
	}
	if len(f.Addresses) == 0 && len(f.Tokens) == 0 {
		return true
	}
	for _, a := range f.Addresses {
		if a == ev.History.Address {
			return true
		}
	}
	for _, t := range f.Tokens {
		if t == ev.History.Tick {
			return true
		}
	}
	return false
}

// handleEventStream serves POST /events: a live SSE feed of block and
// history updates, optionally filtered to a set of addresses or ticks.
func (s *Server) handleEventStream(c echo.Context) error {
	var filter eventFilter
	if err := c.Bind(&filter); err != nil && !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid filter body")
	}

	sub, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if !filter.matches(ev) {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := resp.Write([]byte("data: ")); err != nil {
				return nil
			}
			if _, err := resp.Write(payload); err != nil {
				return nil
			}
			if _, err := resp.Write([]byte("\n\n")); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

// handleAllAddresses serves GET /all-addresses: every resolved display
// address, written as a JSON array as it's read rather than collected
// into memory first.
func (s *Server) handleAllAddresses(c echo.Context) error {
	resp := c.Response()
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(http.StatusOK)

	if _, err := resp.Write([]byte("[")); err != nil {
		return nil
	}
	first := true
	walkErr := s.store.ForEachResolvedAddress(func(addr string) error {
		if !first {
			if _, err := resp.Write([]byte(",")); err != nil {
				return err
			}
		}
		first = false
		encoded, err := json.Marshal(addr)
		if err != nil {
			return err
		}
		_, err = resp.Write(encoded)
		return err
	})
	if walkErr != nil {
		log.API.Error().Err(walkErr).Msg("all-addresses stream interrupted")
	}
	_, _ = resp.Write([]byte("]"))
	return nil
}
