package rpc

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Routing node RPC Paths
const (
	VersionRoutePath    = "/v1/"
	StatusRoutePath     = "/v1/status"
	SectionRoutePath    = "/v1/section"
	ChainRoutePath      = "/v1/chain"
	NeighboursRoutePath = "/v1/neighbours"
)

const (
	VersionRouteName    = "version"
	StatusRouteName     = "status"
	SectionRouteName    = "section"
	ChainRouteName      = "chain"
	NeighboursRouteName = "neighbours"
)

// routes contains the method and path for a routing node RPC route
type routes map[string]struct {
	Method string
	Path   string
}

// routePaths is a mapping from route names to their corresponding HTTP methods and paths.
var routePaths = routes{
	VersionRouteName:    {Method: http.MethodGet, Path: VersionRoutePath},
	StatusRouteName:     {Method: http.MethodGet, Path: StatusRoutePath},
	SectionRouteName:    {Method: http.MethodGet, Path: SectionRoutePath},
	ChainRouteName:      {Method: http.MethodGet, Path: ChainRoutePath},
	NeighboursRouteName: {Method: http.MethodGet, Path: NeighboursRoutePath},
}

// httpRouteHandlers is a custom type that maps strings to httprouter handle functions
type httpRouteHandlers map[string]httprouter.Handle

// createRouter initializes and returns a new HTTP router with predefined route handlers.
func createRouter(s *Server) *httprouter.Router {
	var r = httpRouteHandlers{
		VersionRouteName:    s.Version,
		StatusRouteName:     s.Status,
		SectionRouteName:    s.Section,
		ChainRouteName:      s.Chain,
		NeighboursRouteName: s.Neighbours,
	}

	// Initialize a new router using the httprouter package.
	router := httprouter.New()

	for name, handler := range r {
		// Retrieve the path configuration for the current route name.
		path := routePaths[name]

		// Add the handler for the specific path and HTTP method to the router.
		router.Handle(path.Method, path.Path, logHandler{path.Path, handler, s.logger}.Handle)
	}

	return router
}
