// Command budgeit-admin manages accounts directly against the database.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"budgeit/internal/config"
	"budgeit/internal/log"
	"budgeit/internal/service"
	"budgeit/internal/storage"
)

const usage = `Usage: budgeit-admin <command> [args]

Commands:
  adduser <username> <email>   create an account (prompts for password)
  resetpw <username>           reset an account password (prompts)
  deluser <username>           delete an account and all its data
  list                         list accounts
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logger := log.New("warn")

	ctx := context.Background()
	db, err := storage.Open(ctx, logger, storage.Options{
		DatabaseURL:    cfg.DatabaseURL,
		SQLitePath:     cfg.SQLiteDBPath,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		fail("open database: %v", err)
	}
	defer db.Close()

	ledger := service.NewLedger(db.Store, nil, logger)

	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "adduser":
		if len(args) != 2 {
			fail("adduser requires <username> <email>")
		}
		password := promptPassword("Password: ")
		user, err := ledger.Register(ctx, args[0], args[1], password)
		if err != nil {
			fail("create user: %v", err)
		}
		fmt.Printf("Created user %q (id %d)\n", user.Username, user.ID)

	case "resetpw":
		if len(args) != 1 {
			fail("resetpw requires <username>")
		}
		password := promptPassword("New password: ")
		if err := ledger.ResetPassword(ctx, args[0], password); err != nil {
			fail("reset password: %v", err)
		}
		fmt.Printf("Password reset for %q\n", args[0])

	case "deluser":
		if len(args) != 1 {
			fail("deluser requires <username>")
		}
		if err := ledger.RemoveUser(ctx, args[0]); err != nil {
			fail("delete user: %v", err)
		}
		fmt.Printf("Deleted user %q\n", args[0])

	case "list":
		users, err := ledger.Users(ctx)
		if err != nil {
			fail("list users: %v", err)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tCREATED")
		for _, u := range users {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.Email, u.CreatedAt.Format("2006-01-02"))
		}
		tw.Flush()

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fail("read password: %v", err)
	}
	return string(pw)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
