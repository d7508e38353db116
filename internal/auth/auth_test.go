package auth_test

import (
	"testing"
	"time"

	. "github.com/shelfdb/shelfdb/internal/auth"
	"gotest.tools/assert"
)

type fakeChecker struct {
	user     string
	password string
}

func (c *fakeChecker) Authenticate(user, password string) bool {
	return user == c.user && password == c.password
}

func testAuthority(t *testing.T) (*Authority, *time.Time) {
	hash, err := HashPassword("s3cret")
	assert.NilError(t, err)
	a := NewAuthority("admin", hash, &fakeChecker{user: "clerk", password: "pw"})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return now })
	return a, &now
}

func TestLogin(t *testing.T) {
	a, _ := testAuthority(t)

	key := a.Login("admin", "s3cret")
	assert.Assert(t, key != "")
	role, ok := a.TokenRole(key)
	assert.Assert(t, ok)
	assert.Equal(t, role, RoleAdmin)

	key = a.Login("clerk", "pw")
	assert.Assert(t, key != "")
	role, ok = a.TokenRole(key)
	assert.Assert(t, ok)
	assert.Equal(t, role, RoleWrite)

	assert.Equal(t, a.Login("admin", "wrong"), "")
	assert.Equal(t, a.Login("clerk", "wrong"), "")
	assert.Equal(t, a.Login("nobody", "pw"), "")
}

func TestTokenLifecycle(t *testing.T) {
	a, now := testAuthority(t)
	issued := *now

	key := a.Login("clerk", "pw")
	assert.Assert(t, a.IsValidToken(key))

	*now = issued.Add(TokenValidity - time.Second)
	assert.Assert(t, a.IsValidToken(key))

	*now = issued.Add(TokenValidity + TokenGrace + time.Second)
	assert.Assert(t, !a.IsValidToken(key))

	// a sweep after expiry must not change what lookups report
	a.Sweep()
	assert.Assert(t, !a.IsValidToken(key))
}

func TestLogout(t *testing.T) {
	a, _ := testAuthority(t)
	key := a.Login("clerk", "pw")
	a.Logout(key)
	assert.Assert(t, !a.IsValidToken(key))
}

func TestLoginThrottle(t *testing.T) {
	a, now := testAuthority(t)
	start := *now

	for i := 0; i < MaxLoginAttempts; i++ {
		assert.Assert(t, !a.IsBlocked("10.0.0.1"), "attempt %d should pass", i+1)
	}
	assert.Assert(t, a.IsBlocked("10.0.0.1"), "sixth attempt within the window must block")

	// other clients are unaffected
	assert.Assert(t, !a.IsBlocked("10.0.0.2"))

	// the window resets after it elapsed
	*now = start.Add(time.Hour)
	assert.Assert(t, !a.IsBlocked("10.0.0.1"))
}

func TestSweepDropsStaleRecords(t *testing.T) {
	a, now := testAuthority(t)
	start := *now

	a.Login("clerk", "pw")
	a.IsBlocked("10.0.0.1")

	*now = start.Add(TokenValidity + TokenGrace + time.Minute)
	a.Sweep()

	// a fresh window starts clean after the sweep
	for i := 0; i < MaxLoginAttempts; i++ {
		assert.Assert(t, !a.IsBlocked("10.0.0.1"))
	}
}
