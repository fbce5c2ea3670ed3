// threadctl replays a JSON file of provider payloads through the
// threading engine against a local SQLite database and prints the
// decision for each email. Useful for tuning matchers on a mailbox
// export without running the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/threadline/threadline/internal/classify"
	"github.com/threadline/threadline/internal/mail"
	"github.com/threadline/threadline/internal/models"
	"github.com/threadline/threadline/internal/store"
	"github.com/threadline/threadline/internal/threading"
)

func main() {
	dbPath := flag.String("db", "threadctl.db", "SQLite database path")
	mailbox := flag.String("mailbox", "", "address of the mailbox owner")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: threadctl [-db path] [-mailbox address] emails.json")
		os.Exit(2)
	}

	raw, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read input:", err)
		os.Exit(1)
	}

	var emails []models.InboundEmail
	if err := json.Unmarshal(raw, &emails); err != nil {
		fmt.Fprintln(os.Stderr, "parse input:", err)
		os.Exit(1)
	}

	db, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		os.Exit(1)
	}
	defer db.Close()

	classifier := classify.NewKeywordClassifier()
	engine := threading.NewEngine(db, classifier)
	service := mail.NewService(db, engine, classifier, nil, *mailbox)

	ctx := context.Background()
	for i := range emails {
		res, err := service.Ingest(ctx, &emails[i])
		if err != nil {
			fmt.Fprintf(os.Stderr, "email %d: %v\n", i, err)
			os.Exit(1)
		}
		if res.Duplicate {
			fmt.Printf("%-40s  duplicate of %s\n", emails[i].Subject, res.MessageID)
			continue
		}
		fmt.Printf("%-40s  thread=%s method=%s confidence=%.2f\n",
			emails[i].Subject, res.ThreadID, res.Decision.Method, res.Decision.Confidence)
	}
}
