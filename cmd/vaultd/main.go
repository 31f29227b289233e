package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/peervault/peervault/internal/buildinfo"
	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/config"
	"github.com/peervault/peervault/internal/daemon"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()

	passphrase, err := readPassphrase()
	if err != nil {
		log.Fatalf("%v", err)
	}

	app, err := daemon.NewApp(cfg, passphrase)
	common.WipeByteArray(passphrase)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(ctx)
}

// readPassphrase takes the keyfile passphrase from PEERVAULT_PASSPHRASE
// so the daemon can start unattended, or prompts when run from a
// terminal.
func readPassphrase() ([]byte, error) {
	if v := os.Getenv("PEERVAULT_PASSPHRASE"); v != "" {
		return []byte(v), nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("no passphrase: set PEERVAULT_PASSPHRASE or run from a terminal")
	}
	fmt.Fprint(os.Stdout, "Enter passphrase: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stdout)
	return pw, err
}
