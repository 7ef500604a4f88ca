package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
	"github.com/rmezapi/prototipo-cassa-gpt/internal/session"
	"github.com/rmezapi/prototipo-cassa-gpt/internal/storage"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start or resume an interactive chat",
	Long: `Start or resume an interactive chat with the assistant.

Inside the chat:
  /upload <path>   attach a file to this conversation
  /files           list attached files
  /quit            leave the chat`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, _ := cmd.Flags().GetString("conversation")
		kbID, _ := cmd.Flags().GetString("kb")
		model, _ := cmd.Flags().GetString("model")

		client, cfg, err := newClient()
		if err != nil {
			return err
		}
		if model == "" {
			model = cfg.Chat.DefaultModel
		}

		ctx := cmd.Context()

		var sess *session.Session
		if conversationID != "" {
			sess, err = session.Open(ctx, client, conversationID)
			if err != nil {
				return fmt.Errorf("resuming conversation: %w", err)
			}
		} else {
			conv, err := client.CreateConversation(ctx, kbID, model)
			if err != nil {
				return fmt.Errorf("creating conversation: %w", err)
			}
			sess = session.New(client, *conv)
		}
		defer sess.Close()

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening history cache: %w", err)
		}
		defer store.Close()

		conv := sess.Conversation()
		rec := storage.ConversationRecord{
			ID:         conv.ID,
			CreatedAt:  conv.CreatedAt,
			KBID:       conv.KnowledgeBaseID,
			ModelID:    conv.ModelID,
			LastActive: time.Now().UTC(),
		}
		if conv.KnowledgeBase != nil {
			rec.KBName = conv.KnowledgeBase.Name
		}
		if err := store.UpsertConversation(rec); err != nil {
			printWarning("could not cache conversation: %v", err)
		}

		printStatus("Conversation", "%s", conv.ID)
		if conv.KnowledgeBase != nil {
			printStatus("Knowledge base", "%s", conv.KnowledgeBase.Name)
		}
		for _, m := range sess.Messages() {
			writeMessage(cmd.OutOrStdout(), m.Message)
		}

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for {
			fmt.Fprint(cmd.OutOrStdout(), speakerPrefix(gateway.SpeakerUser))
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())

			switch {
			case line == "":
				continue
			case line == "/quit" || line == "/exit":
				return scanner.Err()
			case line == "/files":
				files := sess.Files()
				if len(files) == 0 {
					printWarning("no files attached")
					continue
				}
				for _, f := range files {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s (%s)\n", f.Filename, f.DocID)
				}
				continue
			case strings.HasPrefix(line, "/upload "):
				uploadToSession(cmd, sess, store, strings.TrimSpace(strings.TrimPrefix(line, "/upload")))
				continue
			case strings.HasPrefix(line, "/"):
				printWarning("unknown command %s", line)
				continue
			}

			reply, err := sess.Send(ctx, line)
			if err != nil {
				if errors.Is(err, session.ErrSendInFlight) {
					printWarning("still waiting on the previous message")
					continue
				}
				printError("send failed: %v", err)
				continue
			}

			writeMessage(cmd.OutOrStdout(), reply.Message)
			saveHistory(store, conv.ID, sess)
		}
		return scanner.Err()
	},
}

func uploadToSession(cmd *cobra.Command, sess *session.Session, store *storage.Store, path string) {
	if path == "" {
		printWarning("usage: /upload <path>")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		printError("opening %s: %v", path, err)
		return
	}
	defer f.Close()

	ref, err := sess.UploadFile(cmd.Context(), filepath.Base(path), f)
	if err != nil {
		printError("upload failed: %v", err)
		return
	}
	printSuccess("attached %s (%s)", ref.Filename, ref.DocID)
	saveHistory(store, sess.Conversation().ID, sess)
}

// saveHistory persists all confirmed messages. SaveMessage ignores ids it
// already has, so replaying the whole transcript is cheap.
func saveHistory(store *storage.Store, conversationID string, sess *session.Session) {
	for _, m := range sess.Messages() {
		if m.State != session.Confirmed {
			continue
		}
		rec := storage.MessageRecord{
			ID:             m.ID,
			ConversationID: conversationID,
			Speaker:        m.Speaker,
			Text:           m.Text,
			CreatedAt:      m.CreatedAt,
		}
		if err := store.SaveMessage(rec); err != nil {
			printWarning("could not cache message: %v", err)
			return
		}
	}
}

func init() {
	chatCmd.Flags().String("conversation", "", "conversation id to resume")
	chatCmd.Flags().String("kb", "", "knowledge base id to ground answers in")
	chatCmd.Flags().String("model", "", "model id (defaults to config)")
}
