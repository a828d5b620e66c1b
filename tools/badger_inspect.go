package main

import (
	"chat-hub/domain"
	"chat-hub/infrastructure/storage"
	"flag"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

const maxContentWidth = 48

// Prints the messages stored by the hub, one row per message.
func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	channel := flag.String("channel", "", "Only show this channel")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Channel", "Time", "Message ID", "Sender", "Content", "Attachments", "Reactions"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(storage.MessagePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			channelID, err := storage.DecodeChannel(item.Key())
			if err != nil {
				fmt.Printf("Skipping key %s: %v\n", item.Key(), err)
				continue
			}
			if *channel != "" && string(channelID) != *channel {
				continue
			}

			err = item.Value(func(v []byte) error {
				message, err := storage.DecodeMessage(v)
				if err != nil {
					// Keep going, one broken value must not hide the others
					fmt.Printf("Error decoding key %s: %v\n", item.Key(), err)
					return nil
				}
				table.Append([]string{
					string(channelID),
					message.CreatedAt.Format("2006-01-02 15:04:05"),
					shorten(message.ID, 8),
					message.SenderID,
					shorten(message.Content, maxContentWidth),
					fmt.Sprint(len(message.Attachments)),
					reactions(message.Reactions),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

// reactions renders "like:2 love:1".
func reactions(list []domain.Reaction) string {
	counts := lo.CountValuesBy(list, func(r domain.Reaction) string { return r.ReactionType })
	keys := lo.Keys(counts)
	slices.Sort(keys)
	return strings.Join(lo.Map(keys, func(k string, _ int) string {
		return fmt.Sprintf("%s:%d", k, counts[k])
	}), " ")
}

func shorten(s string, width int) string {
	runes := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(runes) <= width {
		return string(runes)
	}
	return string(runes[:width-1]) + "…"
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
