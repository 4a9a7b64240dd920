// Package api serves the HTTP/SSE surface of the indexer: read-only
// queries over the token store and holders index, plus a live event
// stream fed by internal/events.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/choosenname/bel-20-indexer/config"
	"github.com/choosenname/bel-20-indexer/internal/events"
	"github.com/choosenname/bel-20-indexer/internal/holders"
	"github.com/choosenname/bel-20-indexer/internal/log"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// shutdownGrace bounds how long Stop waits for in-flight requests (the
// SSE handlers in particular) to drain before forcing the listener closed.
const shutdownGrace = 2 * time.Second

// Server is the HTTP/SSE API. It holds read-only handles into the
// indexer's shared state; it never mutates the store, the holders
// index, or the event broadcaster, only subscribes to the latter.
type Server struct {
	echo    *echo.Echo
	addr    string
	store   *tokenstore.Store
	idx     *holders.Index
	events  *events.Broadcaster
	network config.NetworkType

	allowedNets []*net.IPNet
	corsOrigins []string
}

// Config carries the IP-filtering and CORS knobs. A zero-value Config
// allows every IP and disables CORS, matching the teacher's default.
type Config struct {
	AllowedIPs  []string
	CORSOrigins []string
	Network     config.NetworkType
}

// New builds a Server bound to addr, serving queries from store and idx
// and an SSE stream sourced from broadcaster.
func New(addr string, store *tokenstore.Store, idx *holders.Index, broadcaster *events.Broadcaster, cfg Config) *Server {
	s := &Server{
		addr:        addr,
		store:       store,
		idx:         idx,
		events:      broadcaster,
		network:     cfg.Network,
		allowedNets: parseAllowedIPs(cfg.AllowedIPs),
		corsOrigins: cfg.CORSOrigins,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(s.ipFilter)
	e.Use(s.cors)
	registerRoutes(e, s)
	s.echo = e

	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet. An
// entry that is neither a valid CIDR nor a valid IP is skipped.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// ipFilter rejects requests from hosts outside allowedNets. An empty
// allowedNets allows every host.
func (s *Server) ipFilter(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if len(s.allowedNets) == 0 {
			return next(c)
		}
		host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "forbidden")
		}
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			return echo.NewHTTPError(http.StatusForbidden, "forbidden")
		}
		return next(c)
	}
}

func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// cors sets CORS headers for configured origins and short-circuits
// preflight OPTIONS requests. An empty corsOrigins disables CORS
// entirely, matching the teacher's default.
func (s *Server) cors(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if len(s.corsOrigins) == 0 {
			return next(c)
		}

		origin := c.Request().Header.Get("Origin")
		if origin != "" {
			for _, o := range s.corsOrigins {
				if o == "*" {
					c.Response().Header().Set("Access-Control-Allow-Origin", "*")
					break
				}
				if o == origin {
					c.Response().Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
			if c.Response().Header().Get("Access-Control-Allow-Origin") != "" {
				c.Response().Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				c.Response().Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
		}

		if c.Request().Method == http.MethodOptions {
			return c.NoContent(http.StatusNoContent)
		}
		return next(c)
	}
}

// Start begins listening and serving in a background goroutine. It
// returns once the listener is bound, before any request is served.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.echo.Listener = ln

	go func() {
		if err := s.echo.Start(""); err != nil && err != http.ErrServerClosed {
			log.API.Error().Err(err).Msg("api server error")
		}
	}()
	return nil
}

// Addr returns the listener's bound address (useful when addr ends in :0).
func (s *Server) Addr() string {
	if s.echo.Listener != nil {
		return s.echo.Listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts the server down, giving in-flight requests
// (including open SSE streams) shutdownGrace to finish.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
