package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/node"
	"github.com/canopy-network/routing/section"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

const (
	colon = ":"

	SoftwareVersion = "0.1.0-alpha"
	ContentType     = "Content-Type"
	ApplicationJSON = "application/json; charset=utf-8"
)

// NodeI is the read-only view of a routing node the RPC serves
type NodeI interface {
	Status() (node.Status, lib.ErrorI)
	Section() (*section.Info, lib.ErrorI)
	Chain() ([]chain.Link, lib.ErrorI)
	Neighbours() ([]*section.Info, lib.ErrorI)
}

var _ NodeI = (*node.Node)(nil)

// Server represents the status RPC server of a routing node
type Server struct {
	// the node being served
	node NodeI

	// routing node configuration
	config lib.Config

	// the http server, set once started
	server *http.Server

	logger lib.LoggerI
}

// NewServer constructs and returns a new status RPC server
func NewServer(node NodeI, config lib.Config, logger lib.LoggerI) *Server {
	return &Server{
		node:   node,
		config: config,
		logger: logger,
	}
}

// Start serves the status RPC in the background
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:    colon + s.config.RPCPort,
		Handler: s.handler(),
	}
	go func() {
		s.logger.Infof("Starting RPC server at 0.0.0.0:%s", s.config.RPCPort)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(err.Error())
		}
	}()
}

// Stop gracefully shuts the RPC server down
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.config.TimeoutS)*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Errorf("RPC shutdown failed: %s", err.Error())
	}
}

// handler wraps the router with the CORS policy and the request timeout
func (s *Server) handler() http.Handler {
	// Create CORS policy
	cor := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	})

	// Create a default timeout for HTTP requests
	timeout := time.Duration(s.config.TimeoutS) * time.Second

	return cor.Handler(http.TimeoutHandler(createRouter(s), timeout, ErrServerTimeout().Error()))
}

// Version writes the software version
func (s *Server) Version(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, SoftwareVersion, http.StatusOK)
}

// Status writes a snapshot of the node
func (s *Server) Status(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	status, err := s.node.Status()
	s.respond(w, status, err)
}

// Section writes our section info and its proof from the genesis key
func (s *Server) Section(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	info, err := s.node.Section()
	s.respond(w, info, err)
}

// Chain writes the retained links of the section chain
func (s *Server) Chain(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	links, err := s.node.Chain()
	s.respond(w, links, err)
}

// Neighbours writes the other sections the node knows about
func (s *Server) Neighbours(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	infos, err := s.node.Neighbours()
	s.respond(w, infos, err)
}

func (s *Server) respond(w http.ResponseWriter, payload any, err lib.ErrorI) {
	if err != nil {
		// a stopped or halted node cannot answer
		write(w, err, http.StatusServiceUnavailable)
		return
	}
	write(w, payload, http.StatusOK)
}

// write marshals the payload to indented json
func write(w http.ResponseWriter, payload interface{}, code int) {
	w.Header().Set(ContentType, ApplicationJSON)
	w.WriteHeader(code)

	// Marshal and indent the payload
	bz, _ := json.MarshalIndent(payload, "", "  ")
	_, _ = w.Write(bz)
}

// logHandler serves as a middleware that logs incoming RPC calls
type logHandler struct {
	path   string
	h      httprouter.Handle
	logger lib.LoggerI
}

// Handle
func (h logHandler) Handle(resp http.ResponseWriter, req *http.Request, p httprouter.Params) {
	h.logger.Debugf("RPC %s %s", req.Method, h.path)

	// Call the actual handler function with the response, request, and parameters.
	h.h(resp, req, p)
}
