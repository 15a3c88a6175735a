// Package service wires the node's components into one lifecycle: storage,
// nonce store, submission engine, aggregator, anchor worker and the HTTP
// API, started together and shut down in reverse order.
package service

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/civicledger/referendum-node/aggregator"
	"github.com/civicledger/referendum-node/anchor"
	"github.com/civicledger/referendum-node/api"
	"github.com/civicledger/referendum-node/credentials"
	"github.com/civicledger/referendum-node/crypto/hashers"
	"github.com/civicledger/referendum-node/crypto/receipts"
	"github.com/civicledger/referendum-node/db"
	"github.com/civicledger/referendum-node/db/metadb"
	"github.com/civicledger/referendum-node/engine"
	"github.com/civicledger/referendum-node/log"
	"github.com/civicledger/referendum-node/noncestore"
	"github.com/civicledger/referendum-node/storage"
)

// Config collects everything the node needs to run.
type Config struct {
	DataDir string

	// Crypto registry
	HasherVariant   string
	NullifierSecret []byte

	// Receipt signer; when both paths are empty a fresh keypair is
	// generated and persisted under DataDir.
	ReceiptPrivKeyPath string
	ReceiptPubKeyPath  string

	// Credential verification
	CredentialIssuerKey ed25519.PublicKey
	CredentialIssuers   []string

	// Tunables
	BucketWindow       time.Duration
	NonceTTL           time.Duration
	AnchorInterval     time.Duration
	RequireAttestation bool

	// External ledger; nil disables anchoring.
	Ledger anchor.Ledger

	// API
	APIHost string
	APIPort int
}

// Node is the assembled referendum node.
type Node struct {
	Storage    *storage.Storage
	Nonces     *noncestore.Store
	Engine     *engine.Engine
	Aggregator *aggregator.Aggregator
	Signer     *receipts.Signer
	API        *api.API

	database       db.Database
	anchors        *anchor.Worker
	anchorInterval time.Duration
	apiConfig      *api.APIConfig
	cancel         context.CancelFunc
}

// New assembles a node from its configuration. Nothing starts yet; call
// Start.
func New(cfg *Config) (*Node, error) {
	hasher, err := hashers.New(cfg.HasherVariant, cfg.NullifierSecret)
	if err != nil {
		return nil, fmt.Errorf("crypto registry: %w", err)
	}
	signer, err := loadSigner(cfg)
	if err != nil {
		return nil, err
	}
	verifier, err := credentials.NewVerifier(cfg.CredentialIssuerKey, cfg.CredentialIssuers)
	if err != nil {
		return nil, err
	}

	database, err := metadb.New(metadb.TypePebble, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := storage.New(database, hasher.Name())
	nonces := noncestore.New(database, cfg.NonceTTL)
	agg, err := aggregator.New(store)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Config{
		Storage:            store,
		Nonces:             nonces,
		Hasher:             hasher,
		Signer:             signer,
		Credentials:        verifier,
		BucketWindow:       cfg.BucketWindow,
		RequireAttestation: cfg.RequireAttestation,
	})
	if err != nil {
		return nil, err
	}

	n := &Node{
		Storage:    store,
		Nonces:     nonces,
		Engine:     eng,
		Aggregator: agg,
		Signer:     signer,
		database:   database,
	}
	if cfg.Ledger != nil {
		n.anchors = anchor.New(store, cfg.Ledger)
	}
	n.apiConfig = &api.APIConfig{
		Host:       cfg.APIHost,
		Port:       cfg.APIPort,
		Storage:    store,
		Engine:     eng,
		Nonces:     nonces,
		Aggregator: agg,
		Signer:     signer,
	}
	n.anchorInterval = cfg.AnchorInterval
	return n, nil
}

// Start launches the background workers and the HTTP server.
func (n *Node) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)
	n.Nonces.Start(ctx, 0)
	if n.anchors != nil {
		n.anchors.Start(ctx, n.anchorInterval)
	}
	a, err := api.New(n.apiConfig)
	if err != nil {
		return err
	}
	n.API = a
	return nil
}

// Stop shuts everything down in reverse start order.
func (n *Node) Stop() {
	if n.API != nil {
		ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
		if err := n.API.Shutdown(ctx); err != nil {
			log.Errorw(err, "API shutdown")
		}
		cancelFn()
	}
	if n.anchors != nil {
		n.anchors.Close()
	}
	n.Nonces.Close()
	if n.cancel != nil {
		n.cancel()
	}
	n.Storage.Close()
}

// loadSigner loads the receipt keypair from the configured paths, or
// generates and persists a fresh one on first run.
func loadSigner(cfg *Config) (*receipts.Signer, error) {
	if cfg.ReceiptPrivKeyPath == "" && cfg.ReceiptPubKeyPath == "" {
		signer, err := receipts.GenerateSigner()
		if err != nil {
			return nil, err
		}
		if cfg.DataDir != "" {
			if err := persistSigner(signer, cfg.DataDir); err != nil {
				return nil, err
			}
		}
		return signer, nil
	}
	privPEM, err := os.ReadFile(cfg.ReceiptPrivKeyPath)
	if err != nil {
		return nil, fmt.Errorf("receipt private key: %w", err)
	}
	pubPEM, err := os.ReadFile(cfg.ReceiptPubKeyPath)
	if err != nil {
		return nil, fmt.Errorf("receipt public key: %w", err)
	}
	return receipts.NewSigner(privPEM, pubPEM)
}

func persistSigner(signer *receipts.Signer, dir string) error {
	privPEM, err := signer.KeyPEM()
	if err != nil {
		return err
	}
	pubPEM, err := signer.PublicKeyPEM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(dir+"/receipt_key.pem", privPEM, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(dir+"/receipt_key.pub.pem", pubPEM, 0o644); err != nil {
		return err
	}
	log.Infow("generated receipt keypair", "dir", dir)
	return nil
}
