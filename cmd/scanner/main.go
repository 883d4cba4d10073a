package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/njhughes-01/bod-ticketing/scanner"
)

// Консольная стойка регистрации: вводите код билета (или сканируйте
// в поле ввода аппаратным сканером), подтверждайте регистрацию.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	baseURL := flag.String("server", envOrDefault("CHECKIN_SERVER_URL", "http://localhost:8080"), "ticket server base URL")
	token := flag.String("token", os.Getenv("CHECKIN_TOKEN"), "operator JWT")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "operator token is required (flag -token or CHECKIN_TOKEN)")
		os.Exit(1)
	}

	client := scanner.NewClient(*baseURL, *token)
	session := scanner.NewSession(client)
	defer session.Close()

	fmt.Println("Ticket check-in. Enter a ticket code, then y to confirm, n to reset, q to quit.")

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())

		switch strings.ToLower(line) {
		case "":
			continue
		case "q", "quit", "exit":
			fmt.Printf("Checked in this session: %d\n", session.CheckedInCount())
			return
		case "n", "reset":
			session.Reset()
			fmt.Println("Cleared.")
			continue
		case "y", "confirm":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := session.Confirm(ctx)
			cancel()
			if err != nil {
				fmt.Println(err)
				continue
			}
			printSnapshot(session.Snapshot())
			continue
		default:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := session.Scan(ctx, line)
			cancel()
			if err != nil {
				fmt.Println(err)
				continue
			}
			printSnapshot(session.Snapshot())
		}
	}
}

func printSnapshot(snap scanner.Snapshot) {
	switch snap.State {
	case scanner.StateResultError:
		fmt.Println("ERROR:", snap.ErrorMessage)
	case scanner.StateResultAlreadyCheckedIn:
		t := snap.Ticket.Ticket
		fmt.Printf("ALREADY CHECKED IN: %s (%s)", t.TicketCode, t.PlayerName())
		if t.CheckedInAt != nil {
			fmt.Printf(" at %s", t.CheckedInAt.Local().Format(time.Kitchen))
		} else {
			fmt.Print(" at Unknown time")
		}
		fmt.Println()
	case scanner.StateResultRefundedOrVoid:
		t := snap.Ticket.Ticket
		fmt.Printf("NOT ELIGIBLE: %s has status %s\n", t.TicketCode, t.Status)
	case scanner.StateResultValid:
		t := snap.Ticket.Ticket
		fmt.Printf("VALID: %s — %s", t.TicketCode, t.PlayerName())
		if t.Team != nil {
			fmt.Printf(" (%s)", t.Team.Name)
		}
		fmt.Println()
		if snap.ErrorMessage != "" {
			fmt.Println("last attempt failed:", snap.ErrorMessage)
		}
		fmt.Println("confirm check-in? (y/n)")
	default:
		if snap.SuccessMessage != "" {
			fmt.Printf("OK: %s (total %d)\n", snap.SuccessMessage, snap.CheckedIn)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
