package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"clipbot/pkg/config"
	"clipbot/pkg/index"
	"clipbot/pkg/media"
	"clipbot/pkg/workspace"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var (
	indexListChat   int64
	indexListKind   string
	indexListLimit  int
	indexRemoveFile bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect the file index",
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed files, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(cmd.Context(), func(ctx context.Context, _ *config.Config, store *index.Store) error {
			opts := index.ListOptions{ChatID: indexListChat, Limit: indexListLimit}
			if indexListKind != "" {
				opts.Kind = media.ParseKind(indexListKind)
			}

			entries, err := store.List(ctx, opts)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no indexed files")
				return nil
			}

			fmt.Println(renderEntries(entries))
			return nil
		})
	},
}

var indexShowCmd = &cobra.Command{
	Use:   "show <chat_id> <message_id>",
	Short: "Show one indexed file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, messageID, err := parseIndexKey(args)
		if err != nil {
			return err
		}

		return withIndex(cmd.Context(), func(ctx context.Context, _ *config.Config, store *index.Store) error {
			entry, ok, err := store.Lookup(ctx, chatID, messageID)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("not found")
				return nil
			}

			fmt.Println(renderEntries([]index.Entry{entry}))
			if entry.Text != "" {
				fmt.Println(entry.Text)
			}
			return nil
		})
	},
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete <chat_id> <message_id>",
	Short: "Drop one index entry, optionally removing its file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, messageID, err := parseIndexKey(args)
		if err != nil {
			return err
		}

		return withIndex(cmd.Context(), func(ctx context.Context, cfg *config.Config, store *index.Store) error {
			entry, ok, err := store.Lookup(ctx, chatID, messageID)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("not found")
				return nil
			}

			if indexRemoveFile {
				guard, err := workspace.NewGuard(cfg.Storage.Root)
				if err != nil {
					return err
				}
				if err := guard.Remove(entry.LocalPath); err != nil && !workspace.IsNotFound(err) {
					return fmt.Errorf("remove %s: %w", entry.LocalPath, err)
				}
			}

			if _, err := store.Delete(ctx, chatID, messageID); err != nil {
				return err
			}
			fmt.Printf("deleted %d/%d\n", chatID, messageID)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexListCmd, indexShowCmd, indexDeleteCmd)

	indexListCmd.Flags().Int64Var(&indexListChat, "chat", 0, "only entries of this chat id")
	indexListCmd.Flags().StringVar(&indexListKind, "kind", "", "only entries of this kind (video, image, sticker, ...)")
	indexListCmd.Flags().IntVar(&indexListLimit, "limit", 50, "maximum rows, 0 for all")
	indexDeleteCmd.Flags().BoolVar(&indexRemoveFile, "remove-file", false, "also delete the file from the storage root")
}

func withIndex(ctx context.Context, fn func(context.Context, *config.Config, *index.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := index.Open(ctx, cfg.Storage.IndexPath, cfg.Storage.IndexKey)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, cfg, store)
}

func parseIndexKey(args []string) (int64, int, error) {
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat id %q", args[0])
	}
	messageID, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message id %q", args[1])
	}
	return chatID, messageID, nil
}

func renderEntries(entries []index.Entry) string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.ChatID, 10),
			strconv.Itoa(e.MessageID),
			string(e.Kind),
			media.SizeMB(e.SizeBytes),
			e.CreatedAt.Local().Format(time.DateTime),
			e.LocalPath,
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("130"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("CHAT", "MESSAGE", "KIND", "SIZE", "CREATED", "PATH").
		Rows(rows...).
		String()
}
