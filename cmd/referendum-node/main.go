package main

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/civicledger/referendum-node/anchor/web3ledger"
	"github.com/civicledger/referendum-node/log"
	"github.com/civicledger/referendum-node/service"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output)
	log.Infow("starting referendum-node", "version", Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := os.MkdirAll(cfg.Datadir, 0o750); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	issuerKey, err := loadIssuerKey(cfg.Cred.IssuerKey)
	if err != nil {
		log.Fatalf("Failed to load credential issuer key: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcCfg := &service.Config{
		DataDir:             cfg.Datadir,
		HasherVariant:       cfg.Crypto.Hasher,
		NullifierSecret:     []byte(cfg.Crypto.Secret),
		ReceiptPrivKeyPath:  cfg.Receipt.PrivKey,
		ReceiptPubKeyPath:   cfg.Receipt.PubKey,
		CredentialIssuerKey: issuerKey,
		CredentialIssuers:   cfg.Cred.Issuers,
		BucketWindow:        cfg.BucketWindow(),
		NonceTTL:            cfg.NonceTTL(),
		AnchorInterval:      cfg.AnchorInterval(),
		RequireAttestation:  cfg.Vote.RequireAttestation,
		APIHost:             cfg.API.Host,
		APIPort:             cfg.API.Port,
	}
	if cfg.Anchor.RPC != "" {
		ledger, err := web3ledger.New(ctx, cfg.Anchor.RPC, cfg.Anchor.PrivKey)
		if err != nil {
			log.Fatalf("Failed to connect to anchor ledger: %v", err)
		}
		defer ledger.Close()
		svcCfg.Ledger = ledger
	}

	node, err := service.New(svcCfg)
	if err != nil {
		log.Fatalf("Failed to assemble node: %v", err)
	}
	if err := node.Start(ctx); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}
	defer node.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received signal, shutting down", "signal", sig.String())
}

// loadIssuerKey reads the enrollment service's Ed25519 public key (PKIX
// PEM).
func loadIssuerKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("issuer key is not Ed25519")
	}
	return key, nil
}
