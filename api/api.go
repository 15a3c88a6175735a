// Package api exposes the referendum node over HTTP: ballot submission,
// nonce minting, poll reads, k-anonymous results, receipt verification and
// audit-chain inspection.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/civicledger/referendum-node/aggregator"
	"github.com/civicledger/referendum-node/crypto/receipts"
	"github.com/civicledger/referendum-node/engine"
	"github.com/civicledger/referendum-node/log"
	"github.com/civicledger/referendum-node/noncestore"
	"github.com/civicledger/referendum-node/storage"
)

const (
	maxRequestBodyLog = 512 // Maximum length of request body to log
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host       string
	Port       int
	Storage    *storage.Storage
	Engine     *engine.Engine
	Nonces     *noncestore.Store
	Aggregator *aggregator.Aggregator
	Signer     *receipts.Signer
}

// API type represents the API HTTP server.
type API struct {
	router     *chi.Mux
	server     *http.Server
	storage    *storage.Storage
	engine     *engine.Engine
	nonces     *noncestore.Store
	aggregator *aggregator.Aggregator
	signer     *receipts.Signer
}

// New creates a new API instance with the given configuration and starts
// the HTTP server.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Storage == nil || conf.Engine == nil || conf.Nonces == nil ||
		conf.Aggregator == nil || conf.Signer == nil {
		return nil, fmt.Errorf("missing API dependency")
	}
	a := &API{
		storage:    conf.Storage,
		engine:     conf.Engine,
		nonces:     conf.Nonces,
		aggregator: conf.Aggregator,
		signer:     conf.Signer,
	}
	a.initRouter()
	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes.
func (a *API) Router() *chi.Mux {
	return a.router
}

// Shutdown gracefully stops the HTTP server.
func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, _ *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", InfoEndpoint, "method", "GET")
	a.router.Get(InfoEndpoint, a.info)
	// nonce endpoints
	log.Infow("register handler", "endpoint", NoncesEndpoint, "method", "POST")
	a.router.Post(NoncesEndpoint, a.newNonce)
	// poll endpoints
	log.Infow("register handler", "endpoint", PollsEndpoint, "method", "GET")
	a.router.Get(PollsEndpoint, a.listPolls)
	log.Infow("register handler", "endpoint", PollEndpoint, "method", "GET")
	a.router.Get(PollEndpoint, a.poll)
	log.Infow("register handler", "endpoint", PollResultsEndpoint, "method", "GET")
	a.router.Get(PollResultsEndpoint, a.pollResults)
	log.Infow("register handler", "endpoint", PollRootEndpoint, "method", "GET")
	a.router.Get(PollRootEndpoint, a.pollRoot)
	log.Infow("register handler", "endpoint", PollAnchorsEndpoint, "method", "GET")
	a.router.Get(PollAnchorsEndpoint, a.pollAnchors)
	// vote endpoints
	log.Infow("register handler", "endpoint", VotesEndpoint, "method", "POST")
	a.router.Post(VotesEndpoint, a.newVote)
	log.Infow("register handler", "endpoint", VoteStatusEndpoint, "method", "GET")
	a.router.Get(VoteStatusEndpoint, a.voteStatus)
	log.Infow("register handler", "endpoint", ReceiptKeyEndpoint, "method", "GET")
	a.router.Get(ReceiptKeyEndpoint, a.receiptKey)
	log.Infow("register handler", "endpoint", VerifyReceiptEndpoint, "method", "POST")
	a.router.Post(VerifyReceiptEndpoint, a.verifyReceipt)
	// audit endpoints
	log.Infow("register handler", "endpoint", AuditVerifyEndpoint, "method", "GET")
	a.router.Get(AuditVerifyEndpoint, a.auditVerify)
	log.Infow("register handler", "endpoint", AuditEventsEndpoint, "method", "GET")
	a.router.Get(AuditEventsEndpoint, a.auditEvents)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(loggingMiddleware(maxRequestBodyLog))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}
