// Command admintoken mints a bearer token for the trackgate admin API.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	jwttoken "trackgate/internal/jwt_token"
)

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	var subject, role, issuer string
	var ttl time.Duration

	flagSet := pflag.NewFlagSet("admintoken", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&subject, "subject", "", "operator identity recorded as changed_by (required)")
	flagSet.StringVar(&role, "role", jwttoken.RoleAdmin, "role claim")
	flagSet.StringVar(&issuer, "issuer", getenv("ADMIN_JWT_ISSUER"), "issuer claim")
	flagSet.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if subject == "" {
		return errors.New("--subject is required")
	}
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}
	secret := getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		return errors.New("ADMIN_JWT_SECRET is not set")
	}

	token, err := jwttoken.NewJWTService(secret, issuer).GenerateToken(subject, role, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
