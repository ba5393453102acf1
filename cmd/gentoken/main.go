// Command gentoken issues development tokens for the courier server.
//
//	gentoken [-ttl 24h] [-config file.json] <userId> [name]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"courier/internal/auth"
	"courier/internal/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("gentoken", flag.ContinueOnError)
	ttl := flags.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	configPath := flags.String("config", os.Getenv("COURIER_CONFIG_FILE"), "path to a JSON configuration file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() < 1 {
		return errors.New("usage: gentoken [-ttl 24h] [-config file.json] <userId> [name]")
	}
	userID := flags.Arg(0)
	name := userID
	if flags.NArg() > 1 {
		name = flags.Arg(1)
	}

	// Only the auth settings matter here, so the full server validation is skipped
	cfg := config.LoadFromEnv()
	if *configPath != "" {
		if err := config.ApplyFile(cfg, *configPath); err != nil {
			return err
		}
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, nil)
	if err != nil {
		return fmt.Errorf("set JWT_SECRET to sign tokens: %w", err)
	}

	token, err := authenticator.SignToken(userID, name, *ttl)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n  User  : %s (%s)\n  Token : %s\n\n", name, userID, token)
	return nil
}
