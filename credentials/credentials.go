// Package credentials verifies voter credentials: short-lived EdDSA-signed
// tokens minted by the external enrollment service. The node checks
// signature, issuer and expiry, extracts the opaque subject and the bucketed
// demographics, and keeps nothing.
package credentials

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/civicledger/referendum-node/types"
)

var (
	ErrInvalidCredential = errors.New("invalid voter credential")
	ErrExpiredCredential = errors.New("expired voter credential")
	ErrUnknownIssuer     = errors.New("credential issuer not trusted")
)

// DemographicData is the nested demographic claim of a credential token.
type DemographicData struct {
	AgeBucket   string `json:"age_bucket"`
	Gender      string `json:"gender"`
	Region      string `json:"region"`
	Citizenship string `json:"citizenship,omitempty"`
}

// Claims is the claim set of a voter credential: {iss, sub, data, exp}.
// Subject is an opaque enrollment identifier, never PII; it feeds the
// nullifier derivation and is dropped afterwards.
type Claims struct {
	Data DemographicData `json:"data"`
	jwt.RegisteredClaims
}

// Credential is a verified voter credential.
type Credential struct {
	Subject      string
	Demographics types.Demographics
}

// Verifier validates credentials against the enrollment service's public key
// and a set of trusted issuers.
type Verifier struct {
	key     ed25519.PublicKey
	issuers []string
	parser  *jwt.Parser
}

// NewVerifier creates a credential verifier. At least one trusted issuer is
// required.
func NewVerifier(key ed25519.PublicKey, issuers []string) (*Verifier, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("credential key: expected %d bytes, got %d", ed25519.PublicKeySize, len(key))
	}
	if len(issuers) == 0 {
		return nil, errors.New("credential verifier needs at least one trusted issuer")
	}
	return &Verifier{
		key:     key,
		issuers: issuers,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"EdDSA"}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify checks a credential token and returns its subject and demographic
// buckets. The demographic values are validated against the recognized
// enumerations so malformed claims never reach a vote row.
func (v *Verifier) Verify(token string) (*Credential, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	if !slices.Contains(v.issuers, claims.Issuer) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIssuer, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	if _, err := types.AgeBucketLowerBound(claims.Data.AgeBucket); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Data.Gender != types.GenderMale && claims.Data.Gender != types.GenderFemale {
		return nil, fmt.Errorf("%w: unrecognized gender %q", ErrInvalidCredential, claims.Data.Gender)
	}
	if claims.Data.Region == "" {
		return nil, fmt.Errorf("%w: missing region", ErrInvalidCredential)
	}
	return &Credential{
		Subject: claims.Subject,
		Demographics: types.Demographics{
			AgeBucket:   claims.Data.AgeBucket,
			Gender:      claims.Data.Gender,
			Region:      claims.Data.Region,
			Citizenship: claims.Data.Citizenship,
		},
	}, nil
}

// Issue signs a credential token. The node never issues credentials in
// production; this mirrors the enrollment service for tests and local runs.
func Issue(key ed25519.PrivateKey, issuer, subject string, demo types.Demographics, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Data: DemographicData{
			AgeBucket:   demo.AgeBucket,
			Gender:      demo.Gender,
			Region:      demo.Region,
			Citizenship: demo.Citizenship,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
}
