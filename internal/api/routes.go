package api

import "github.com/labstack/echo/v4"

// registerRoutes wires every §6.1 endpoint to its handler.
func registerRoutes(e *echo.Echo, s *Server) {
	e.GET("/status", s.handleStatus)
	e.GET("/proof-of-history", s.handleProofOfHistory)
	e.GET("/events/:height", s.handleEventsByHeight)
	e.GET("/txid/:txid", s.handleTxID)

	e.GET("/address/:addr", s.handleAddress)
	e.GET("/address/:addr/tokens", s.handleAddress)
	e.GET("/address/:addr/history", s.handleAddressHistory)
	e.GET("/address/:addr/tokens-tick", s.handleAddressTicks)
	e.GET("/address/:addr/:tick/balance", s.handleAddressTickBalance)

	e.GET("/tokens", s.handleTokens)
	e.GET("/token", s.handleToken)
	e.GET("/token/proof/:addr/:outpoint", s.handleTokenProof)

	e.GET("/holders", s.handleHolders)

	e.POST("/events", s.handleEventStream)
	e.GET("/all-addresses", s.handleAllAddresses)
}
