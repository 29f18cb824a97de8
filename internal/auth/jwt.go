package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrNoSecret     = errors.New("jwt secret is empty")
)

type Claims struct {
	UserID uint64 `json:"userId"`
	Email  string `json:"email,omitempty"`

	jwt.RegisteredClaims
}

type JWT struct {
	Secret   []byte
	TokenTTL time.Duration
	Issuer   string
	Now      func() time.Time
}

func (j JWT) now() time.Time {
	if j.Now != nil {
		return j.Now().UTC()
	}
	return time.Now().UTC()
}

func (j JWT) Sign(userID uint64, email string) (token string, expiresAt time.Time, err error) {
	if len(j.Secret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	now := j.now()
	ttl := j.TokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	expiresAt = now.Add(ttl)
	issuer := j.Issuer
	if issuer == "" {
		issuer = "dcabot"
	}
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, expiresAt, nil
}

func (j JWT) Verify(token string) (Claims, error) {
	if len(j.Secret) == 0 {
		return Claims{}, ErrNoSecret
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return j.Secret, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || c.UserID == 0 {
		return Claims{}, ErrInvalidToken
	}
	return *c, nil
}

// VerifyToken satisfies realtime.TokenVerifier.
func (j JWT) VerifyToken(token string) (uint64, error) {
	c, err := j.Verify(token)
	if err != nil {
		return 0, err
	}
	return c.UserID, nil
}
