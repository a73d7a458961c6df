package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "sigforge"

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

func withClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the authenticated claims, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

func (a *API) generateJWT(username string) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.config.Auth.TokenTTL)
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   username,
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.Auth.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (a *API) validateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.config.Auth.JWTSecret), nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// generateJTI generates a unique JWT ID with 128-bit entropy
func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// login exchanges credentials for a bearer token. Repeated failures from
// one address lock it out for a while.
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	if !a.config.Auth.Enabled {
		writeError(w, http.StatusNotFound, "authentication is disabled", nil, a.logger)
		return
	}
	ip := clientIP(r)
	if a.authLocked(ip) {
		a.logger.Warnw("Login blocked after repeated failures", "ip", ip)
		writeError(w, http.StatusTooManyRequests, "too many failed login attempts", nil, a.logger)
		return
	}

	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}

	if req.Username != a.config.Auth.Username ||
		bcrypt.CompareHashAndPassword([]byte(a.config.Auth.HashedPassword), []byte(req.Password)) != nil {
		a.recordAuthFailure(ip)
		a.logger.Warnw("Failed login attempt", "ip", ip, "username", sanitizeLogField(req.Username))
		writeError(w, http.StatusUnauthorized, "invalid credentials", nil, a.logger)
		return
	}
	a.clearAuthFailures(ip)

	token, expires, err := a.generateJWT(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token", err, a.logger)
		return
	}
	a.logger.Infow("User logged in", "username", req.Username, "ip", ip)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires})
}

// decode reads a JSON body into v and validates its struct tags. It
// writes the error response itself and reports whether to continue.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err, a.logger)
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error(), nil, a.logger)
		return false
	}
	return true
}
