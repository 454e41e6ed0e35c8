// Command tokengen mints access tokens for local runs, signed with the
// same JWT_SECRET the server verifies with.
//
//	tokengen --user 7 --role USER --ttl 2h
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/iliyamo/cinema-live-seats/internal/middleware"
	"github.com/iliyamo/cinema-live-seats/internal/utils"
)

func main() {
	_ = godotenv.Load()

	userID := pflag.Uint64P("user", "u", 1, "user id placed in the sub claim")
	role := pflag.StringP("role", "r", middleware.RoleUser, "role claim (USER or ADMIN)")
	ttl := pflag.Duration("ttl", time.Hour, "token lifetime")
	secret := pflag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to $JWT_SECRET)")
	pflag.Parse()

	if *role != middleware.RoleUser && *role != middleware.RoleAdmin {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	tok, err := utils.NewAccessToken(*secret, *userID, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}
