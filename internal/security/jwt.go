package security

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/golang-jwt/jwt"
)

var (
	errUnsupportedAlg  = errors.New("unsupported signing algorithm")
	errInvalidToken    = errors.New("invalid token")
	errInvalidIssuer   = errors.New("invalid issuer")
	errInvalidAudience = errors.New("invalid audience")
	errTokenExpired    = errors.New("token expired or not yet valid")
	errInvalidSubject  = errors.New("token has no subject")
	errInvalidRole     = errors.New("token has unknown role")
)

// AccessClaims: клеймы, которые выпускает сервис записи на приём.
type AccessClaims struct {
	jwt.StandardClaims
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

type VerifierConfig struct {
	Alg       string // HS256 | RS256
	Secret    []byte
	PublicKey *rsa.PublicKey
	Issuer    string // пусто: не проверяем
	Audience  string // пусто: не проверяем
	ClockSkew time.Duration
}

// Verifier проверяет токен, предъявленный при рукопожатии, и возвращает identity.
type Verifier struct {
	cfg    VerifierConfig
	parser *jwt.Parser
	now    func() time.Time
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	cfg.Alg = strings.ToUpper(strings.TrimSpace(cfg.Alg))
	if cfg.Alg == "" {
		cfg.Alg = jwt.SigningMethodHS256.Alg()
	}
	switch cfg.Alg {
	case jwt.SigningMethodHS256.Alg():
		if len(cfg.Secret) == 0 {
			return nil, errors.New("security: HS256 requires a secret")
		}
	case jwt.SigningMethodRS256.Alg():
		if cfg.PublicKey == nil {
			return nil, errors.New("security: RS256 requires a public key")
		}
	default:
		return nil, fmt.Errorf("security: %w: %s", errUnsupportedAlg, cfg.Alg)
	}

	return &Verifier{
		cfg: cfg,
		// exp/nbf проверяем сами, с допуском clockSkew
		parser: &jwt.Parser{ValidMethods: []string{cfg.Alg}, SkipClaimsValidation: true},
		now:    time.Now,
	}, nil
}

func (v *Verifier) Verify(tokenStr string) (domain.Identity, error) {
	claims, err := v.parse(strings.TrimSpace(tokenStr))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}

	subject := claims.UserID
	if subject == "" {
		subject = claims.Subject
	}
	if subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthentication, errInvalidSubject)
	}
	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthentication, errInvalidRole)
	}

	return domain.Identity{SubjectID: subject, DisplayName: claims.Name, Role: role}, nil
}

func (v *Verifier) parse(tokenStr string) (*AccessClaims, error) {
	if tokenStr == "" {
		return nil, errInvalidToken
	}
	claims := &AccessClaims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, v.key)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errInvalidToken
	}

	if v.cfg.Issuer != "" && !claims.VerifyIssuer(v.cfg.Issuer, true) {
		return nil, errInvalidIssuer
	}
	if v.cfg.Audience != "" && !claims.VerifyAudience(v.cfg.Audience, true) {
		return nil, errInvalidAudience
	}

	now := v.now()
	if claims.ExpiresAt != 0 && now.After(time.Unix(claims.ExpiresAt, 0).Add(v.cfg.ClockSkew)) {
		return nil, errTokenExpired
	}
	if claims.NotBefore != 0 && now.Before(time.Unix(claims.NotBefore, 0).Add(-v.cfg.ClockSkew)) {
		return nil, errTokenExpired
	}

	return claims, nil
}

func (v *Verifier) key(t *jwt.Token) (any, error) {
	if t.Method.Alg() != v.cfg.Alg {
		return nil, errUnsupportedAlg
	}
	if v.cfg.Alg == jwt.SigningMethodRS256.Alg() {
		return v.cfg.PublicKey, nil
	}

	return v.cfg.Secret, nil
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return jwt.ParseRSAPublicKeyFromPEM(b)
}
