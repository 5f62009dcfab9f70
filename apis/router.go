package apis

import (
	"github.com/alwitt/fundstream/session"
	"github.com/gorilla/mux"
)

// DefineRoutes install the session, stream, and health endpoints under a path prefix
func DefineRoutes(
	router *mux.Router,
	pathPrefix string,
	sessionHandler APIRestSessionHandler,
	streamHandler APIRestStreamHandler,
) *mux.Router {
	mainRouter := RegisterPathPrefix(router, pathPrefix, nil)

	// Session
	_ = RegisterPathPrefix(mainRouter, "/auth/login", MethodHandlers{
		"post": sessionHandler.LoginHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/auth/refresh", MethodHandlers{
		"post": sessionHandler.RefreshHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/auth/logout", MethodHandlers{
		"post": sessionHandler.LogoutHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/auth/me", MethodHandlers{
		"get": sessionHandler.RequireSession(sessionHandler.MeHandler()),
	})

	// Stream
	_ = RegisterPathPrefix(mainRouter, "/stream/global", MethodHandlers{
		"get": sessionHandler.RequireSession(streamHandler.SubscribeGlobalHandler()),
	})
	_ = RegisterPathPrefix(mainRouter, "/stream/{topic}/notify", MethodHandlers{
		"post": sessionHandler.RequireSession(
			sessionHandler.RequireRole(
				streamHandler.NotifyHandler(), session.RoleAdministrator, session.RoleMentor,
			),
		),
	})
	_ = RegisterPathPrefix(mainRouter, "/stream/{topic}", MethodHandlers{
		"get": sessionHandler.RequireSession(streamHandler.SubscribeHandler()),
	})

	// Health
	_ = RegisterPathPrefix(mainRouter, "/alive", MethodHandlers{
		"get": sessionHandler.AliveHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/ready", MethodHandlers{
		"get": sessionHandler.ReadyHandler(),
	})

	return mainRouter
}
