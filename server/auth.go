package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v4"
	"github.com/zenazn/goji/web"

	"github.com/geogenius/rda/rda"
)

// authConfig enables JWT checks on the web API when a secret key is set.
type authConfig struct {
	SecretKey string `toml:"secret_key"`
	AuthFile  string `toml:"auth_file"`
}

// authorizer holds the user privileges loaded from the auth file, a JSON object
// mapping user names (or "*") to "read", "write", or "readwrite".
type authorizer struct {
	secret []byte

	mu    sync.RWMutex
	users map[string]string
}

func newAuthorizer(cfg authConfig) (*authorizer, error) {
	if cfg.SecretKey == "" {
		return nil, nil
	}
	a := &authorizer{secret: []byte(cfg.SecretKey), users: map[string]string{}}
	if cfg.AuthFile == "" {
		rda.Infof("No authorization file found.  Any user with a valid token may read.\n")
		a.users["*"] = "read"
		return a, nil
	}
	data, err := os.ReadFile(cfg.AuthFile)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &a.users); err != nil {
		return nil, fmt.Errorf("cannot parse auth file %s: %v", cfg.AuthFile, err)
	}
	return a, nil
}

// GenerateJWT returns a token for user signed with the secret key.
func GenerateJWT(secretKey, user string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user": user})
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("error with JWT signing: %v", err)
	}
	return tokenString, nil
}

// allowed returns true if the user may issue requests with the method.
func (a *authorizer) allowed(user, httpMethod string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	priv, found := a.users[user]
	if !found {
		if priv, found = a.users["*"]; !found {
			return false
		}
	}
	method := strings.ToLower(httpMethod)
	readReq := method == "get" || method == "head" || method == "options"
	switch priv {
	case "readwrite":
		return true
	case "read":
		return readReq
	case "write":
		return !readReq
	default:
		rda.Errorf("Authorized user %q has unparsable privilege %q\n", user, priv)
		return false
	}
}

// middleware validates the bearer token and sets c.Env["user"].
func (a *authorizer) middleware(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			h.ServeHTTP(w, r)
			return
		}
		reqToken := r.Header.Get("Authorization")
		if len(reqToken) == 0 {
			Unauthorized(w, r, "JWT required via Authorization in request header")
			return
		}
		splitToken := strings.Split(reqToken, "Bearer")
		if len(splitToken) != 2 || strings.TrimSpace(splitToken[1]) == "" {
			Unauthorized(w, r, "bearer not in proper format")
			return
		}
		token, err := jwt.Parse(strings.TrimSpace(splitToken[1]), func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("error signing method: %v", token.Header["alg"])
			}
			return a.secret, nil
		})
		if err != nil {
			Unauthorized(w, r, "error parsing JWT: %v", err)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			Unauthorized(w, r, "failed authorization")
			return
		}
		user, ok := claims["user"].(string)
		if !ok {
			Unauthorized(w, r, "user %v is not a simple string", claims["user"])
			return
		}
		if !a.allowed(user, r.Method) {
			Forbidden(w, r, "user %q is not authorized to %s", user, r.Method)
			return
		}
		if c.Env == nil {
			c.Env = make(map[interface{}]interface{})
		}
		c.Env["user"] = user
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
