// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package auth guards handlers with HTTP basic authentication.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"mp4mjpeg/pkg/log"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptHashCost bcrypt hash cost.
const DefaultBcryptHashCost = 10

// Account contains user information.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password"` // Bcrypt hash.
}

// ValidateResponse ValidateRequest response.
type ValidateResponse struct {
	IsValid bool
	User    string
}

// Authenticator validates basic auth requests against a list of accounts.
// Authentication is disabled if there are no accounts.
type Authenticator struct {
	accounts  map[string]Account // Key is username.
	authCache map[string]ValidateResponse

	hashCost int

	logger *log.Logger
	mu     sync.Mutex
}

// NewAuthenticator loads the accounts in path, a missing file disables authentication.
// The logger does not have to be started.
func NewAuthenticator(path string, logger *log.Logger) (*Authenticator, error) {
	var accounts []Account

	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Disabled.
	case err != nil:
		return nil, fmt.Errorf("read users: %w", err)
	default:
		if err := json.Unmarshal(file, &accounts); err != nil {
			return nil, fmt.Errorf("unmarshal users: %w", err)
		}
	}

	return newAuthenticator(accounts, logger), nil
}

func newAuthenticator(accounts []Account, logger *log.Logger) *Authenticator {
	a := &Authenticator{
		accounts:  make(map[string]Account),
		authCache: make(map[string]ValidateResponse),
		hashCost:  DefaultBcryptHashCost,
		logger:    logger,
	}
	for _, account := range accounts {
		a.accounts[account.Username] = account
	}
	return a
}

// AuthDisabled if all requests should be allowed.
func (a *Authenticator) AuthDisabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.accounts) == 0
}

// ValidateRequest should always take the same amount of
// time to run, even when username or password is invalid.
func (a *Authenticator) ValidateRequest(r *http.Request) ValidateResponse {
	header := r.Header.Get("Authorization")

	a.mu.Lock()
	if res, cached := a.authCache[header]; cached {
		a.mu.Unlock()
		return res
	}
	account, found := a.accounts[basicAuthUser(r)]
	a.mu.Unlock()

	_, pass, _ := r.BasicAuth()
	if !found {
		// Generate fake hash to prevent timing based attacks.
		bcrypt.GenerateFromPassword([]byte(pass), a.hashCost) //nolint:errcheck
		return ValidateResponse{}
	}
	if bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(pass)) != nil {
		return ValidateResponse{}
	}

	res := ValidateResponse{IsValid: true, User: account.Username}

	// Only valid credentials are cached.
	a.mu.Lock()
	a.authCache[header] = res
	a.mu.Unlock()

	return res
}

func basicAuthUser(r *http.Request) string {
	user, _, _ := r.BasicAuth()
	return user
}

// User blocks unauthenticated requests.
func (a *Authenticator) User(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.AuthDisabled() {
			next.ServeHTTP(w, r)
			return
		}
		if res := a.ValidateRequest(r); res.IsValid {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("Authorization") != "" {
			LogFailedLogin(a.logger, r, basicAuthUser(r))
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="mp4mjpeg"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

// LogFailedLogin finds and logs the ip.
func LogFailedLogin(logger *log.Logger, r *http.Request, username string) {
	ip := ""
	realIP := r.Header.Get("X-Real-Ip")
	if realIP != "" {
		ip += "real:" + realIP + " "
	}
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" && forwarded != realIP {
		ip += "forwarded:" + forwarded + " "
	}
	remoteAddr := r.RemoteAddr
	if remoteAddr != "" && remoteAddr != forwarded {
		ip += "addr:" + remoteAddr
	}

	logger.Info().Src("auth").Msgf("failed login: username: %v %v", username, ip)
}
