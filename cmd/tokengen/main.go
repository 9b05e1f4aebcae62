// Command tokengen mints a development bearer token signed with JWT_SECRET.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/auth"
	"github.com/aman-churiwal/delivery-gateway/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "Path to .env file (optional)")
		subject = flag.String("sub", "", "Subject (user id) the token is issued for")
		role    = flag.String("role", "CUSTOMER", "Role claim")
		ttl     = flag.Duration("ttl", time.Hour, "Token lifetime")
	)
	flag.Parse()

	_ = godotenv.Load(*envFile)

	if *subject == "" {
		log.Fatal("-sub is required")
	}

	secret := os.Getenv("JWT_SECRET")
	if len(secret) < config.MinJWTSecretLength {
		log.Fatalf("JWT_SECRET must be at least %d bytes", config.MinJWTSecretLength)
	}

	token, err := auth.NewIssuer(secret).Issue(*subject, *role, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
}
