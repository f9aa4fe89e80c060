package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"vestnik/internal/auth"
	"vestnik/internal/config"
	"vestnik/internal/storage"
)

// AddUser creates a bootstrap account directly against the database with
// a random password and prints the credentials.
func AddUser(ctx context.Context, email string, cfg *config.Config) error {
	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	secret := cfg.AuthSecret
	if secret == "" {
		// The CLI never issues tokens, any secret satisfies the service.
		secret = "cli"
	}

	authService, err := auth.NewAuthService(ctx, auth.Config{Secret: secret, TokenExpiry: cfg.TokenExpiry}, store)
	if err != nil {
		return err
	}

	password, err := randomPassword()
	if err != nil {
		return err
	}

	name := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		name = email[:at]
	}

	user, _, err := authService.Register(name, email, password)
	if err != nil {
		return err
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("ID:       %s\n", user.ID)
	fmt.Printf("Email:    %s\n", user.Email)
	fmt.Printf("Password: %s\n\n", password)
	fmt.Println("Please share these credentials with the user and ask them to change the password.")
	return nil
}

func randomPassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
