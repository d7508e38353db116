package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shelfdb/shelfdb/pkg"
	"golang.org/x/crypto/bcrypt"
)

type Role int

const (
	RoleRead Role = iota
	RoleWrite
	RoleAdmin
)

const (
	TokenValidity = time.Hour
	// tolerates clock skew between the issuance check and use
	TokenGrace = 10 * time.Second

	LoginWindow      = time.Minute
	MaxLoginAttempts = 5
)

type Token struct {
	Key      string
	Role     Role
	IssuedAt time.Time
}

func (t *Token) valid(now time.Time, grace time.Duration) bool {
	return now.Before(t.IssuedAt.Add(TokenValidity + grace))
}

type loginTries struct {
	window_start time.Time
	count        int
}

// CredentialChecker verifies non-admin credentials, typically against
// the backing store.
type CredentialChecker interface {
	Authenticate(user, password string) bool
}

// Authority issues and validates access tokens and throttles repeated
// login attempts per client. Token and attempt state have independent
// locks, they are never observed jointly.
type Authority struct {
	admin_user string
	admin_hash []byte
	checker    CredentialChecker

	// injected for tests
	now func() time.Time

	token_locker sync.Mutex
	tokens       pkg.Map[string, *Token]

	tries_locker sync.Mutex
	tries        pkg.Map[string, *loginTries]

	stop chan struct{}
}

func NewAuthority(admin_user, admin_hash string, checker CredentialChecker) *Authority {
	return &Authority{
		admin_user: admin_user,
		admin_hash: []byte(admin_hash),
		checker:    checker,
		now:        time.Now,
		tokens:     pkg.Map[string, *Token]{},
		tries:      pkg.Map[string, *loginTries]{},
		stop:       make(chan struct{}),
	}
}

// HashPassword renders a password into the hash format expected in
// the admin-hash config entry.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login checks the configured admin credentials first and falls back
// to the credential checker. It returns the token key, or "" on
// failure without telling wrong user from wrong password.
func (a *Authority) Login(user, password string) string {
	if a.admin_user != "" && user == a.admin_user &&
		bcrypt.CompareHashAndPassword(a.admin_hash, []byte(password)) == nil {
		return a.issue(RoleAdmin)
	}
	if a.checker != nil && a.checker.Authenticate(user, password) {
		return a.issue(RoleWrite)
	}
	return ""
}

func (a *Authority) issue(role Role) string {
	token := &Token{Key: uuid.NewString(), Role: role, IssuedAt: a.now()}
	a.token_locker.Lock()
	defer a.token_locker.Unlock()
	a.tokens.Set(token.Key, token)
	return token.Key
}

func (a *Authority) IsValidToken(key string) bool {
	a.token_locker.Lock()
	defer a.token_locker.Unlock()
	token := a.tokens.Get(key)
	return token != nil && token.valid(a.now(), TokenGrace)
}

// TokenRole reports the role of a valid token; ok is false for
// unknown or expired keys.
func (a *Authority) TokenRole(key string) (Role, bool) {
	a.token_locker.Lock()
	defer a.token_locker.Unlock()
	token := a.tokens.Get(key)
	if token == nil || !token.valid(a.now(), TokenGrace) {
		return RoleRead, false
	}
	return token.Role, true
}

func (a *Authority) Logout(key string) {
	a.token_locker.Lock()
	defer a.token_locker.Unlock()
	a.tokens.Delete(key)
}

// IsBlocked counts a login attempt for the client and reports whether
// it exceeded the rolling window. First sight creates an empty record
// and admits.
func (a *Authority) IsBlocked(client string) bool {
	now := a.now()

	a.tries_locker.Lock()
	defer a.tries_locker.Unlock()

	tries := a.tries.Get(client)
	if tries == nil {
		a.tries.Set(client, &loginTries{window_start: now, count: 1})
		return false
	}
	if now.Sub(tries.window_start) > LoginWindow {
		tries.window_start = now
		tries.count = 1
		return false
	}
	tries.count++
	return tries.count > MaxLoginAttempts
}

// StartSweeper runs the periodic cleanup of expired tokens and stale
// attempt records until Stop is called.
func (a *Authority) StartSweeper() {
	go func() {
		ticker := time.NewTicker(TokenValidity)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Sweep()
			case <-a.stop:
				return
			}
		}
	}()
}

func (a *Authority) Stop() {
	close(a.stop)
}

// Sweep drops tokens past validity plus grace and attempt records
// whose window has elapsed.
func (a *Authority) Sweep() {
	now := a.now()

	a.token_locker.Lock()
	for _, key := range a.tokens.Keys() {
		if !a.tokens.Get(key).valid(now, TokenGrace) {
			a.tokens.Delete(key)
		}
	}
	a.token_locker.Unlock()

	a.tries_locker.Lock()
	for _, client := range a.tries.Keys() {
		if now.Sub(a.tries.Get(client).window_start) > LoginWindow {
			a.tries.Delete(client)
		}
	}
	a.tries_locker.Unlock()
}

// SetClock injects a deterministic clock. Test hook.
func (a *Authority) SetClock(now func() time.Time) { a.now = now }
