package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/corpchat/chatsync/internal/daemon"
	"github.com/corpchat/chatsync/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "config file path (overrides default)")
	loginFlag := flag.String("login", "", "user login; prompts a token-less authentication")
	passwordFlag := flag.String("password", "", "password for -login")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			ConfigPath:  *configFlag,
			Token:       os.Getenv("CHATSYNC_TOKEN"),
			Login:       *loginFlag,
			Password:    *passwordFlag,
		}),
	)

	app.Run()
}
