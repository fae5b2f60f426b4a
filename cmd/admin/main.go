// Command admin creates the administrator account in the configured
// database. The email comes from -email or the admin_email setting; the
// password from the admin_password setting or an interactive prompt.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/crmkeeper/internal/flagx"
	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server"
	"github.com/dmitrijs2005/crmkeeper/internal/server/config"
	"golang.org/x/term"
)

// Seams for tests.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
	loadConfig   = config.LoadConfig
	ensureAdmin  = server.EnsureAdmin
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "admin:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin *os.File, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	email := fs.String("email", cfg.AdminEmail, "administrator email")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-email"})); err != nil {
		return err
	}

	password := cfg.AdminPassword
	if password == "" {
		password, err = promptPassword(stdin, out)
		if err != nil {
			return err
		}
	}

	created, err := ensureAdmin(ctx, cfg, logging.New(cfg.Env), *email, password)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "administrator %s created\n", *email)
	} else {
		fmt.Fprintf(out, "administrator %s already exists\n", *email)
	}
	return nil
}

// promptPassword reads the password without echo from a terminal, or a
// single line when stdin is piped.
func promptPassword(stdin *os.File, out io.Writer) (string, error) {
	fmt.Fprint(out, "Admin password: ")
	var password string
	if fd := int(stdin.Fd()); isTerminal(fd) {
		b, err := readPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		password = string(b)
	} else {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}
