package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/ara-systems/ara/internal/arerr"
)

const service = "ara"

// lockoutState tracks consecutive failures for one credential kind.
type lockoutState struct {
	consecutiveFailures int
	lockedUntil         time.Time
}

// Authenticator verifies operator credentials against role-declared auth
// methods, enforcing the rate-limit policy in §4.15.
type Authenticator struct {
	store Store

	mu      sync.Mutex
	pinLock lockoutState
	otpLock lockoutState
}

// NewAuthenticator builds an Authenticator over the given credential
// store.
func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{store: store}
}

// SetPIN hashes and stores a new PIN. pin must be at least 6 numeric
// digits.
func (a *Authenticator) SetPIN(pin string) error {
	if len(pin) < 6 || !isNumeric(pin) {
		return arerr.New(arerr.KindInternal, "pin must be at least 6 digits")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return arerr.Wrap(arerr.KindInternal, "pin hashing failed", err)
	}
	return a.store.Store(service, string(KindPINHash), hash)
}

// VerifyPIN checks pin under the 3-fail/15-minute lockout policy.
func (a *Authenticator) VerifyPIN(pin string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if time.Now().Before(a.pinLock.lockedUntil) {
		return arerr.New(arerr.KindAuthLockedOut, "pin locked out, try again later")
	}

	hash, err := a.store.Retrieve(service, string(KindPINHash))
	if err != nil {
		return arerr.Wrap(arerr.KindAuthFailed, "no pin configured", err)
	}

	if bcrypt.CompareHashAndPassword(hash, []byte(pin)) != nil {
		a.pinLock.consecutiveFailures++
		if a.pinLock.consecutiveFailures >= 3 {
			a.pinLock.lockedUntil = time.Now().Add(15 * time.Minute)
			a.pinLock.consecutiveFailures = 0
			return arerr.New(arerr.KindAuthLockedOut, "too many pin failures, locked for 15 minutes")
		}
		return arerr.New(arerr.KindAuthFailed, "incorrect pin")
	}
	a.pinLock.consecutiveFailures = 0
	return nil
}

// SetTOTP generates a new RFC-6238 seed, stores it, and returns the
// provisioning URI for the operator's authenticator app.
func (a *Authenticator) SetTOTP(accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "ARA",
		AccountName: accountName,
		Period:      30,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		return "", arerr.Wrap(arerr.KindInternal, "totp generation failed", err)
	}
	if err := a.store.Store(service, string(KindTOTPSeed), []byte(key.Secret())); err != nil {
		return "", err
	}
	return key.URL(), nil
}

// VerifyTOTP checks code (30s step, ±1 step tolerance) under the
// 5-fail/30-minute lockout policy.
func (a *Authenticator) VerifyTOTP(code string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if time.Now().Before(a.otpLock.lockedUntil) {
		return arerr.New(arerr.KindAuthLockedOut, "totp locked out, try again later")
	}

	secret, err := a.store.Retrieve(service, string(KindTOTPSeed))
	if err != nil {
		return arerr.Wrap(arerr.KindAuthFailed, "no totp configured", err)
	}

	valid, err := totp.ValidateCustom(code, string(secret), time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		a.otpLock.consecutiveFailures++
		if a.otpLock.consecutiveFailures >= 5 {
			a.otpLock.lockedUntil = time.Now().Add(30 * time.Minute)
			a.otpLock.consecutiveFailures = 0
			return arerr.New(arerr.KindAuthLockedOut, "too many totp failures, locked for 30 minutes")
		}
		return arerr.New(arerr.KindAuthFailed, "incorrect totp code")
	}
	a.otpLock.consecutiveFailures = 0
	return nil
}

// GenerateBackupCodes creates n single-use 8-character backup codes,
// stores their hashes, and returns the plaintext codes for display once.
func (a *Authenticator) GenerateBackupCodes(n int) ([]string, error) {
	if n < 6 {
		n = 6
	}
	if n > 8 {
		n = 8
	}
	codes := make([]string, n)
	hashes := make([][]byte, n)
	for i := range codes {
		raw := make([]byte, 5)
		if _, err := rand.Read(raw); err != nil {
			return nil, arerr.Wrap(arerr.KindInternal, "backup code generation failed", err)
		}
		codes[i] = base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)[:8]
		h, err := bcrypt.GenerateFromPassword([]byte(codes[i]), bcrypt.DefaultCost)
		if err != nil {
			return nil, arerr.Wrap(arerr.KindInternal, "backup code hashing failed", err)
		}
		hashes[i] = h
	}
	for i, h := range hashes {
		if err := a.store.Store(service, fmt.Sprintf("backup_code_%d", i), h); err != nil {
			return nil, err
		}
	}
	return codes, nil
}

// ConsumeBackupCode verifies and invalidates a single-use backup code.
func (a *Authenticator) ConsumeBackupCode(code string) error {
	for i := 0; i < 8; i++ {
		keyName := fmt.Sprintf("backup_code_%d", i)
		hash, err := a.store.Retrieve(service, keyName)
		if err != nil {
			continue
		}
		if bcrypt.CompareHashAndPassword(hash, []byte(code)) == nil {
			return a.store.Delete(service, keyName)
		}
	}
	return arerr.New(arerr.KindAuthFailed, "backup code not recognized or already used")
}

// SwitchMethod requires the operator to verify under the current method
// before the new method's secret is installed; the old secret is deleted
// only on success.
func (a *Authenticator) SwitchMethod(from, to string, currentCredential string, setup func() error) error {
	var err error
	switch from {
	case "pin":
		err = a.VerifyPIN(currentCredential)
	case "totp":
		err = a.VerifyTOTP(currentCredential)
	default:
		err = nil // auth method "none"
	}
	if err != nil {
		return err
	}
	if err := setup(); err != nil {
		return err
	}
	switch from {
	case "pin":
		return a.store.Delete(service, string(KindPINHash))
	case "totp":
		return a.store.Delete(service, string(KindTOTPSeed))
	}
	return nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// constantTimeEqual is a timing-safe comparison for callers outside the
// bcrypt/totp paths above (e.g. session tokens).
func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// IssueSessionToken generates and stores a fresh opaque token scoped to
// sessionID, used to re-authorize operator control commands (pause,
// resume, cancel) against a running session without re-prompting PIN/TOTP
// on every call.
func (a *Authenticator) IssueSessionToken(sessionID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", arerr.Wrap(arerr.KindInternal, "token generation failed", err)
	}
	token := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	if err := a.store.Store(service, "session_token_"+sessionID, []byte(token)); err != nil {
		return "", err
	}
	return token, nil
}

// VerifySessionToken checks token against the one issued for sessionID
// using a constant-time comparison.
func (a *Authenticator) VerifySessionToken(sessionID, token string) error {
	want, err := a.store.Retrieve(service, "session_token_"+sessionID)
	if err != nil {
		return arerr.Wrap(arerr.KindAuthFailed, "no session token issued", err)
	}
	if !constantTimeEqual(want, []byte(token)) {
		return arerr.New(arerr.KindAuthFailed, "session token mismatch")
	}
	return nil
}
