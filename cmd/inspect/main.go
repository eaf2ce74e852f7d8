// Command inspect prints the stored history of one conversation.
//
//	inspect -db ./data/badger -a alice -b bob
package main

import (
	"dm-relay/domain"
	"dm-relay/repositories"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	a := flag.String("a", "", "First participant")
	b := flag.String("b", "", "Second participant")
	flag.Parse()

	key, err := domain.NewConversationKey(domain.UserID(*a), domain.UserID(*b))
	if err != nil || *a == "" || *b == "" {
		log.Fatal("Two distinct participants are required (-a, -b)")
	}

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	repo := repositories.NewConversationRepository(db, logs.GetLoggerFromLevel(slog.LevelError))
	messages, err := repo.ListMessages(key)
	if err != nil {
		log.Fatal(err)
	}
	render(os.Stdout, messages)
	fmt.Printf("%d message(s) between %s and %s\n", len(messages), key.A, key.B)
}

func render(w io.Writer, messages []domain.Message) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "ID", "From", "Kind", "Content", "Status", "Reactions"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, m := range messages {
		table.Append(row(m))
	}
	table.Render()
}

func row(m domain.Message) []string {
	content := domain.TextOf(m.Body)
	if m.Edited {
		content += " (edited)"
	}

	reactions := make([]string, 0, len(m.Reactions))
	for user, emoji := range m.Reactions {
		reactions = append(reactions, string(user)+":"+emoji)
	}
	sort.Strings(reactions)

	// Short ids are enough to tell messages apart on screen.
	return []string{
		m.CreatedAt.Format(time.DateTime),
		m.ID.String()[:8],
		string(m.SenderID),
		string(domain.KindOf(m.Body)),
		content,
		statusColor(m.Status).Render(m.Status.String()),
		strings.Join(reactions, " "),
	}
}

func statusColor(s domain.Status) color.Style {
	switch s {
	case domain.Read:
		return color.New(color.FgGreen)
	case domain.Delivered:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgYellow)
	}
}
