package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/config"
	"github.com/rmezapi/prototipo-cassa-gpt/internal/devserver"
	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
	"github.com/rmezapi/prototipo-cassa-gpt/internal/kbase"
	"github.com/rmezapi/prototipo-cassa-gpt/internal/mcpserver"
	"github.com/rmezapi/prototipo-cassa-gpt/internal/poll"
	"github.com/rmezapi/prototipo-cassa-gpt/internal/sidebar"
	"github.com/rmezapi/prototipo-cassa-gpt/internal/storage"
)

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations on the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		pageSize, _ := cmd.Flags().GetInt("page-size")

		client, _, err := newClient()
		if err != nil {
			return err
		}

		cache := sidebar.New(
			func(ctx context.Context, skip, limit int) ([]gateway.ConversationSummary, error) {
				return client.ListConversations(ctx, skip, limit)
			},
			func(c gateway.ConversationSummary) string { return c.ID },
			pageSize,
		)

		ctx := cmd.Context()
		for {
			if _, err := cache.LoadMore(ctx); err != nil {
				return err
			}
			if !all || !cache.CanLoadMore() {
				break
			}
		}

		items := cache.Items()
		if len(items) == 0 {
			printWarning("no conversations yet")
			return nil
		}
		for _, c := range items {
			kbName := "-"
			if c.KnowledgeBase != nil {
				kbName = c.KnowledgeBase.Name
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  kb=%s\n",
				c.ID, c.CreatedAt.Local().Format("2006-01-02 15:04"), kbName)
		}
		if cache.CanLoadMore() {
			printStep("more available; rerun with --all")
		}
		return nil
	},
}

// --- kb ---

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage knowledge bases",
}

var kbCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		client, _, err := newClient()
		if err != nil {
			return err
		}

		kb, err := client.CreateKnowledgeBase(cmd.Context(), args[0], description)
		if err != nil {
			var apiErr *gateway.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
				return fmt.Errorf("a knowledge base named %q already exists", args[0])
			}
			return err
		}

		printSuccess("created knowledge base %s (%s)", kb.Name, kb.ID)
		return nil
	},
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge bases",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}

		cache := sidebar.New(
			func(ctx context.Context, skip, limit int) ([]gateway.KnowledgeBase, error) {
				return client.ListKnowledgeBases(ctx, skip, limit)
			},
			func(kb gateway.KnowledgeBase) string { return kb.ID },
			sidebar.DefaultPageSize,
		)

		ctx := cmd.Context()
		for {
			if _, err := cache.LoadMore(ctx); err != nil {
				return err
			}
			if !cache.CanLoadMore() {
				break
			}
		}

		items := cache.Items()
		if len(items) == 0 {
			printWarning("no knowledge bases yet")
			return nil
		}
		for _, kb := range items {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d document(s)\n", kb.ID, kb.Name, len(kb.Documents))
		}
		return nil
	},
}

var kbShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a knowledge base and its documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}

		view, err := kbase.Load(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}

		kb := view.KnowledgeBase()
		printStatus("Name", "%s", kb.Name)
		if kb.Description != "" {
			printStatus("Description", "%s", kb.Description)
		}
		printStatus("Created", "%s", kb.CreatedAt.Local().Format(time.RFC1123))

		docs := view.Documents()
		if len(docs) == 0 {
			printWarning("no documents")
			return nil
		}
		for _, d := range docs {
			line := fmt.Sprintf("%s %s  %s  [%s]", statusGlyph(d.Status), d.ID, d.Filename, d.Status)
			if d.Status == gateway.StatusError && d.ErrorMessage != "" {
				line += "  " + d.ErrorMessage
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var kbUploadCmd = &cobra.Command{
	Use:   "upload <id> <file>...",
	Short: "Upload documents into a knowledge base",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		client, cfg, err := newClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		view, err := kbase.Load(ctx, client, args[0])
		if err != nil {
			return err
		}

		for _, path := range args[1:] {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			doc, err := view.Upload(ctx, filepath.Base(path), f)
			f.Close()
			if err != nil {
				return fmt.Errorf("uploading %s: %w", path, err)
			}
			printStep("uploaded %s (%s)", doc.Filename, doc.Status)
		}

		if !watch {
			printSuccess("upload accepted; processing continues on the backend")
			return nil
		}

		// Poll until every document reaches a terminal status.
		ctrl := poll.New(cfg.PollInterval(), view.AnyProcessing, view.Refresh)
		ctrl.Sync(ctx)
		for ctrl.Running() {
			select {
			case <-ctx.Done():
				ctrl.Stop()
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}

		failed := 0
		for _, d := range view.Documents() {
			if d.Status == gateway.StatusError {
				failed++
				printError("%s: %s", d.Filename, d.ErrorMessage)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d document(s) failed processing", failed)
		}
		printSuccess("all documents processed")
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history [conversation-id]",
	Short: "Show locally cached conversation history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := newClient()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening history cache: %w", err)
		}
		defer store.Close()

		if len(args) == 0 {
			recs, err := store.ListConversations(50)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				printWarning("no cached conversations")
				return nil
			}
			for _, r := range recs {
				kbName := "-"
				if r.KBName != "" {
					kbName = r.KBName
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  kb=%s\n",
					r.ID, r.LastActive.Local().Format("2006-01-02 15:04"), kbName)
			}
			return nil
		}

		rec, err := store.GetConversation(args[0])
		if errors.Is(err, storage.ErrNotFound) {
			printWarning("no cached conversation %s", args[0])
			return nil
		}
		if err != nil {
			return err
		}
		printStatus("Conversation", "%s", rec.ID)
		if rec.KBName != "" {
			printStatus("Knowledge base", "%s", rec.KBName)
		}
		printStatus("Last active", "%s", rec.LastActive.Local().Format("2006-01-02 15:04"))

		msgs, err := store.ListMessages(rec.ID)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			printWarning("no cached messages for %s", rec.ID)
			return nil
		}
		for _, m := range msgs {
			fmt.Fprintln(cmd.OutOrStdout(), speakerPrefix(m.Speaker)+m.Text)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <conversation-id>",
	Short: "Remove a conversation from the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := newClient()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening history cache: %w", err)
		}
		defer store.Close()

		if _, err := store.GetConversation(args[0]); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no cached conversation %s", args[0])
			}
			return err
		}
		if err := store.DeleteConversation(args[0]); err != nil {
			return err
		}
		printSuccess("removed %s from the local cache", args[0])
		return nil
	},
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local development backend",
	Long:  "Run an in-memory backend implementing the assistant API, for development and demos.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		port := cfg.Serve.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		backend := devserver.New(devserver.Options{})

		addr := fmt.Sprintf("127.0.0.1:%d", port)
		srv := &http.Server{
			Addr:    addr,
			Handler: backend.Handler(),
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}

		errCh := make(chan error, 1)
		go func() {
			fmt.Fprintf(os.Stderr, "cassa dev backend listening on %s\n", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long:  "Expose ask, list_knowledge_bases, and upload_document as MCP tools on stdin/stdout for agent hosts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := newClient()
		if err != nil {
			return err
		}

		mcpSrv := mcpserver.New(mcpserver.Deps{
			Backend: client,
			Model:   cfg.Chat.DefaultModel,
		})

		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(cmd.Context(), os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	conversationsCmd.Flags().Bool("all", false, "fetch every page instead of the first")
	conversationsCmd.Flags().Int("page-size", sidebar.DefaultPageSize, "page size for listing")

	kbCreateCmd.Flags().String("description", "", "description for the knowledge base")
	kbUploadCmd.Flags().Bool("watch", false, "poll until processing finishes")

	historyCmd.AddCommand(historyClearCmd)

	kbCmd.AddCommand(kbCreateCmd)
	kbCmd.AddCommand(kbListCmd)
	kbCmd.AddCommand(kbShowCmd)
	kbCmd.AddCommand(kbUploadCmd)

	serveCmd.Flags().Int("port", 8000, "port to listen on")
}
