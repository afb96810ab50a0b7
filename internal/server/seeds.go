package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
)

// seedTTL bounds how long seeded credentials wait for their upgrade.
const seedTTL = 2 * time.Minute

type seed struct {
	creds   *sshsvc.Credentials
	expires time.Time
}

// SeedStore holds credentials seeded by a route handler until the
// WebSocket upgrade collects them. Entries are single-use and expire
// quickly; nothing is ever written to disk.
type SeedStore struct {
	cookieName string

	mu    sync.Mutex
	seeds map[string]seed
}

// NewSeedStore creates the store; cookieName is the session cookie
// that links the HTTP request to the upgrade.
func NewSeedStore(cookieName string) *SeedStore {
	s := &SeedStore{
		cookieName: cookieName,
		seeds:      make(map[string]seed),
	}
	go s.sweepLoop()
	return s
}

// Put seeds credentials and sets the linking cookie on the response.
func (s *SeedStore) Put(w http.ResponseWriter, creds *sshsvc.Credentials) {
	id := uuid.New().String()
	s.mu.Lock()
	s.seeds[id] = seed{creds: creds, expires: time.Now().Add(seedTTL)}
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Take implements gateway.CredentialSource: returns and clears the
// seeded credentials for the request's cookie.
func (s *SeedStore) Take(r *http.Request) *sshsvc.Credentials {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.seeds[cookie.Value]
	if !ok {
		return nil
	}
	delete(s.seeds, cookie.Value)
	if time.Now().After(entry.expires) {
		return nil
	}
	return entry.creds
}

func (s *SeedStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		s.mu.Lock()
		for id, entry := range s.seeds {
			if now.After(entry.expires) {
				delete(s.seeds, id)
			}
		}
		s.mu.Unlock()
	}
}
