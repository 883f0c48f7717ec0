/*
Package pow implements the proof-of-work gate placed in front of magic-link emails.

A browser asks for a nonce, searches for a counter whose SHA-256 of
nonce+counter starts with the required number of hex zeros, and trades the
proof for a short-lived, single-use token that the magic-link endpoint accepts.
*/
package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// TokenHeaderKey is the HTTP header carrying the proof token.
	TokenHeaderKey = "X-PoW-Token"

	// ProofTokenDuration is how long an issued proof token stays valid.
	ProofTokenDuration = 30 * time.Second

	// NonceExpiryDuration is how long a challenge nonce stays valid.
	NonceExpiryDuration = 5 * time.Minute
)

var (
	// ErrNonceInvalid is returned for unknown, expired or already used nonces.
	ErrNonceInvalid = errors.New("nonce expired or invalid")

	// ErrProofInsufficient is returned when the hash misses the difficulty prefix.
	ErrProofInsufficient = errors.New("proof does not meet difficulty requirement")
)

// Challenge is what the browser needs to start solving.
type Challenge struct {
	Nonce      string `json:"nonce"`
	Difficulty int    `json:"difficulty"`
}

// Manager tracks outstanding nonces and issued proof tokens. It is safe for concurrent use.
type Manager struct {
	difficulty int

	mu         sync.Mutex
	nonceStore map[string]time.Time
	tokenStore map[string]time.Time

	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a Manager for the given difficulty and starts the expiry sweep.
func NewManager(difficulty int) *Manager {
	m := &Manager{
		difficulty: difficulty,
		nonceStore: make(map[string]time.Time),
		tokenStore: make(map[string]time.Time),
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go m.cleanupExpiredEntries()

	return m
}

// NewChallenge issues a fresh nonce.
func (m *Manager) NewChallenge() Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()

	nonce := uuid.New().String()
	m.nonceStore[nonce] = m.now().Add(NonceExpiryDuration)
	return Challenge{Nonce: nonce, Difficulty: m.difficulty}
}

// Meets reports whether nonce+counter hashes to a value with difficulty leading hex zeros.
func Meets(nonce, counter string, difficulty int) bool {
	hash := sha256.Sum256([]byte(nonce + counter))
	return strings.HasPrefix(hex.EncodeToString(hash[:]), strings.Repeat("0", difficulty))
}

// ValidateProof checks the proof for nonce, consumes the nonce and returns a proof token.
func (m *Manager) ValidateProof(nonce, counter string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiryTime, ok := m.nonceStore[nonce]
	if !ok || m.now().After(expiryTime) {
		return "", ErrNonceInvalid
	}

	if !Meets(nonce, counter, m.difficulty) {
		return "", ErrProofInsufficient
	}

	delete(m.nonceStore, nonce)

	token := uuid.New().String()
	m.tokenStore[token] = m.now().Add(ProofTokenDuration)
	return token, nil
}

// ConsumeProofToken reports whether r carries a valid proof token and invalidates it.
// Each token unlocks exactly one magic-link email.
func (m *Manager) ConsumeProofToken(r *http.Request) bool {
	token := r.Header.Get(TokenHeaderKey)
	if token == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiryTime, ok := m.tokenStore[token]
	if !ok {
		return false
	}
	delete(m.tokenStore, token)

	return !m.now().After(expiryTime)
}

// Stop ends the sweep goroutine.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) cleanupExpiredEntries() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for nonce, expiry := range m.nonceStore {
		if now.After(expiry) {
			delete(m.nonceStore, nonce)
		}
	}
	for token, expiry := range m.tokenStore {
		if now.After(expiry) {
			delete(m.tokenStore, token)
		}
	}
}
