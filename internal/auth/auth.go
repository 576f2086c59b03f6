// Package auth authenticates queue operators and issues the bearer tokens the admin API accepts.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidToken       = errors.New("invalid token")
)

const tokenIssuer = "indexq"

// Operator is an account allowed to administer index queues. PasswordHash is a bcrypt hash.
type Operator struct {
	Username     string
	PasswordHash string
}

type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

type Service struct {
	secret    []byte
	duration  time.Duration
	operators map[string]string
	// dummyHash keeps Login timing similar for unknown operators.
	dummyHash []byte
}

func NewService(secret string, duration time.Duration, operators ...Operator) *Service {
	s := &Service{
		secret:    []byte(secret),
		duration:  duration,
		operators: make(map[string]string, len(operators)),
	}
	for _, op := range operators {
		name := strings.TrimSpace(op.Username)
		if name == "" {
			continue
		}
		s.operators[name] = op.PasswordHash
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("indexq-unknown-operator"), bcrypt.MinCost)
	return s
}

func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *Service) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Login checks an operator's password and returns a signed token.
func (s *Service) Login(username, password string) (string, error) {
	username = strings.TrimSpace(username)
	hash, ok := s.operators[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return "", ErrInvalidCredentials
	}
	if err := s.CheckPassword(hash, password); err != nil {
		return "", err
	}
	return s.GenerateToken(username)
}

func (s *Service) GenerateToken(operator string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.duration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Operator == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
