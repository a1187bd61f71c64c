// seed creates one user so a fresh database can be logged into:
//
//	go run ./cmd/seed -email clerk@example.com -password '...'
//
// The password goes through the configured policy and hashing cost.
// An existing user with the same email is left untouched.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"stockroom/cmd/identity"
	"stockroom/cmd/internal/app"
)

func main() {
	email := flag.String("email", "", "Email of the user to create")
	password := flag.String("password", "", "Plaintext password; must satisfy the password policy")
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal("both -email and -password are required")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("STOCKROOM_DATABASE_URL is not set; export it or add it to .env")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := app.NewDBPool(ctx, cfg)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		log.Fatalf("identity store: %v", err)
	}

	digest, err := cfg.PasswordConfig().Hash(*password)
	if err != nil {
		log.Fatalf("password: %v", err)
	}
	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Email:        *email,
		PasswordHash: digest,
		Now:          time.Now(),
	})
	switch {
	case identity.IsConflict(err):
		log.Printf("user %s already exists; nothing to do", identity.NormalizeEmail(*email))
		return
	case identity.IsInvalidInput(err):
		log.Fatalf("invalid user: %v", err)
	case err != nil:
		log.Fatalf("create user: %v", err)
	}
	log.Printf("created user %s (id=%s)", u.Email, u.ID)
}
