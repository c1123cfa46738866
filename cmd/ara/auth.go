package main

import (
	"fmt"

	"github.com/ara-systems/ara/internal/credentials"
)

// buildCredentialStore opens the kernel's credential vault: the
// OS-native keychain first, falling back to the machine-bound
// encrypted file store. Every secret the kernel holds — PIN hash, TOTP
// seed, audit HMAC key, session tokens — goes through this one store.
func buildCredentialStore(g *Globals) (credentials.Store, error) {
	fileStore, err := credentials.NewEncryptedFileStore(g.Config.Storage.Path+"/credentials", []byte(g.Config.Kernel.InstanceID))
	if err != nil {
		return nil, err
	}
	return credentials.Fallback{Primary: credentials.KeychainStore{}, Secondary: fileStore}, nil
}

func buildAuthenticator(g *Globals) (*credentials.Authenticator, error) {
	store, err := buildCredentialStore(g)
	if err != nil {
		return nil, err
	}
	return credentials.NewAuthenticator(store), nil
}

// AuthSetPINCmd sets or replaces the operator's PIN.
type AuthSetPINCmd struct {
	PIN string `arg:"" help:"New PIN, at least 6 numeric digits"`
}

func (c *AuthSetPINCmd) Run(g *Globals) error {
	auth, err := buildAuthenticator(g)
	if err != nil {
		return err
	}
	if err := auth.SetPIN(c.PIN); err != nil {
		return err
	}
	fmt.Println("pin set")
	return nil
}

// AuthSetupTOTPCmd enrolls a TOTP authenticator and prints the
// provisioning URI for the operator's authenticator app.
type AuthSetupTOTPCmd struct {
	Account string `arg:"" help:"Account name shown in the authenticator app"`
}

func (c *AuthSetupTOTPCmd) Run(g *Globals) error {
	auth, err := buildAuthenticator(g)
	if err != nil {
		return err
	}
	uri, err := auth.SetTOTP(c.Account)
	if err != nil {
		return err
	}
	fmt.Println("provisioning URI:", uri)
	return nil
}
