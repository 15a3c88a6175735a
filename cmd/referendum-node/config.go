package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/civicledger/referendum-node/crypto/hashers"
)

const (
	defaultAPIHost        = "0.0.0.0"
	defaultAPIPort        = 9090
	defaultLogLevel       = "info"
	defaultLogOutput      = "stdout"
	defaultDatadir        = ".referendum-node" // Will be prefixed with user's home directory
	defaultHasher         = hashers.VariantHMAC
	defaultBucketSeconds  = 60
	defaultNonceTTL       = 60
	defaultAnchorInterval = 600
)

// Version is the build version, set at build time with -ldflags
var Version = "dev"

// Config holds the application configuration
type Config struct {
	Crypto  CryptoConfig
	Receipt ReceiptConfig
	Cred    CredConfig
	Vote    VoteConfig
	Anchor  AnchorConfig
	API     APIConfig
	Log     LogConfig
	Datadir string
}

// CryptoConfig selects the crypto registry variant.
type CryptoConfig struct {
	Hasher string `mapstructure:"hasher"`
	Secret string `mapstructure:"secret"`
}

// ReceiptConfig holds the receipt signer key paths.
type ReceiptConfig struct {
	PrivKey string `mapstructure:"privkey"`
	PubKey  string `mapstructure:"pubkey"`
}

// CredConfig holds credential verification settings.
type CredConfig struct {
	IssuerKey string   `mapstructure:"issuerkey"`
	Issuers   []string `mapstructure:"issuers"`
}

// VoteConfig holds vote-path tunables.
type VoteConfig struct {
	BucketSeconds      int  `mapstructure:"bucketseconds"`
	NonceTTLSeconds    int  `mapstructure:"noncettlseconds"`
	RequireAttestation bool `mapstructure:"requireattestation"`
}

// AnchorConfig holds external-ledger anchoring settings.
type AnchorConfig struct {
	RPC             string `mapstructure:"rpc"`
	PrivKey         string `mapstructure:"privkey"`
	IntervalSeconds int    `mapstructure:"intervalseconds"`
}

// APIConfig holds the API-specific configuration
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// BucketWindow returns the vote timestamp window as a duration.
func (c *Config) BucketWindow() time.Duration {
	return time.Duration(c.Vote.BucketSeconds) * time.Second
}

// NonceTTL returns the nonce lifetime as a duration.
func (c *Config) NonceTTL() time.Duration {
	return time.Duration(c.Vote.NonceTTLSeconds) * time.Second
}

// AnchorInterval returns the anchor cadence as a duration.
func (c *Config) AnchorInterval() time.Duration {
	return time.Duration(c.Anchor.IntervalSeconds) * time.Second
}

// loadConfig loads configuration from flags, environment variables, and
// defaults.
func loadConfig() (*Config, error) {
	v := viper.New()

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("crypto.hasher", defaultHasher)
	v.SetDefault("vote.bucketseconds", defaultBucketSeconds)
	v.SetDefault("vote.noncettlseconds", defaultNonceTTL)
	v.SetDefault("anchor.intervalseconds", defaultAnchorInterval)
	v.SetDefault("api.host", defaultAPIHost)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("datadir", defaultDatadirPath)

	flag.String("crypto.hasher", defaultHasher, "crypto registry variant (hmac or poseidon)")
	flag.String("crypto.secret", "", "nullifier secret (required for hmac)")
	flag.String("receipt.privkey", "", "path to the Ed25519 receipt private key (PEM); generated when empty")
	flag.String("receipt.pubkey", "", "path to the Ed25519 receipt public key (PEM)")
	flag.String("cred.issuerkey", "", "path to the enrollment issuer public key (PEM, required)")
	flag.StringSlice("cred.issuers", []string{}, "trusted credential issuer(s), comma-separated")
	flag.Int("vote.bucketseconds", defaultBucketSeconds, "vote timestamp rounding window in seconds")
	flag.Int("vote.noncettlseconds", defaultNonceTTL, "nonce lifetime in seconds")
	flag.Bool("vote.requireattestation", false, "require a device attestation token on ballots")
	flag.StringP("anchor.rpc", "w", "", "web3 rpc endpoint for root anchoring (empty disables anchoring)")
	flag.StringP("anchor.privkey", "k", "", "private key of the anchoring account")
	flag.Int("anchor.intervalseconds", defaultAnchorInterval, "anchoring cadence in seconds")
	flag.StringP("api.host", "a", defaultAPIHost, "API host")
	flag.IntP("api.port", "p", defaultAPIPort, "API port")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for database and key files")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "referendum-node v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: referendum-node [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dashes (-) and dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, REFERENDUM_CRYPTO_SECRET or REFERENDUM_API_PORT\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("REFERENDUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration.
func validateConfig(cfg *Config) error {
	if cfg.Crypto.Hasher == hashers.VariantHMAC && cfg.Crypto.Secret == "" {
		return fmt.Errorf("nullifier secret is required for the hmac hasher (use --crypto.secret or REFERENDUM_CRYPTO_SECRET)")
	}
	if cfg.Cred.IssuerKey == "" {
		return fmt.Errorf("credential issuer key is required (use --cred.issuerkey or REFERENDUM_CRED_ISSUERKEY)")
	}
	if len(cfg.Cred.Issuers) == 0 {
		return fmt.Errorf("at least one trusted credential issuer is required")
	}
	if cfg.Anchor.RPC != "" && cfg.Anchor.PrivKey == "" {
		return fmt.Errorf("anchoring needs a private key (use --anchor.privkey)")
	}
	return nil
}
