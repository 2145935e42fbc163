package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aussiebroadwan/tokengate/internal/authn/app"
)

const usage = `usage:
  tokengate                 serve (configured from the environment)
  tokengate useradd -username NAME [-name DISPLAY] [-scopes "a b"]
                            provision a local account, password read from stdin
`

func main() {
	cfg := app.LoadConfig()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "useradd":
			if err := userAdd(cfg, os.Args[2:]); err != nil {
				log.Fatalf("useradd: %v", err)
			}
			return
		case "serve":
		default:
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func userAdd(cfg app.Config, args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	username := fs.String("username", "", "login name")
	name := fs.String("name", "", "display name")
	scopes := fs.String("scopes", "", "space separated scopes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("-username is required")
	}

	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && password == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	st, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	u, err := st.CreateUser(context.Background(), *username, *name, password, strings.Fields(*scopes))
	if err != nil {
		return err
	}
	fmt.Printf("created user %s (%s)\n", u.Username, u.ID)
	return nil
}
