package httpserver

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"chargehub/backend/services/ocpp-server/internal/http/handlers"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	WebSocket    httprouter.Handle
	ChargePoints *handlers.ChargePointsHandlers
	Sessions     *handlers.SessionsHandlers
	Accounts     *handlers.AccountsHandlers
	Health       http.HandlerFunc
}

// NewRouter wires device and admin routes. Admin routes are only mounted when auth is set.
func NewRouter(deps RouterDeps, auth func(httprouter.Handle) httprouter.Handle) http.Handler {
	router := httprouter.New()

	router.HandlerFunc(http.MethodGet, "/health", deps.Health)
	router.GET("/ocpp/:id", deps.WebSocket)
	router.GET("/ocpp", deps.WebSocket)

	if auth == nil {
		return router
	}

	router.GET("/admin/chargepoints", auth(deps.ChargePoints.List))
	router.POST("/admin/chargepoints/:id/commands", auth(deps.ChargePoints.SendCommand))
	router.GET("/admin/chargepoints/:id/messages", auth(deps.ChargePoints.Messages))
	router.GET("/admin/commands/:id", auth(deps.ChargePoints.GetCommand))

	router.GET("/admin/sessions/active", auth(deps.Sessions.Active))
	router.POST("/admin/sessions/:id/stop", auth(deps.Sessions.Stop))

	router.GET("/admin/accounts/:id/balance", auth(deps.Accounts.Balance))
	router.GET("/admin/accounts/:id/entries", auth(deps.Accounts.Entries))
	router.POST("/admin/accounts/:id/credit", auth(deps.Accounts.Credit))

	return router
}
