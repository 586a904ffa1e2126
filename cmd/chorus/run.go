package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chorus/internal/adapter/store"
	"chorus/internal/domain"
	"chorus/internal/usecase/conversation"
	"chorus/internal/usecase/multiagent"
)

type runOptions struct {
	agentsFile     string
	agentIDs       []string
	message        string
	conversationID string
	userID         string
	maxTurns       int
	dbPath         string
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one conversation in the terminal",
		Example: `  chorus run --agents agents.yaml -m "Plan a 10k training block"
  chorus run --db ~/.chorus/chorus.db --agent coach --agent planner --conversation 01J...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runConversation(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.agentsFile, "agents", "", "YAML roster file (defaults to store.agents_file)")
	cmd.Flags().StringArrayVar(&opts.agentIDs, "agent", nil, "agent ID to include; repeatable (defaults to every agent in --agents)")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "opening user message")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "resume a stored conversation")
	cmd.Flags().StringVar(&opts.userID, "user", "local", "user the agents belong to")
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", 0, "turn limit (defaults to conversation.max_turns)")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite store for agents and transcripts (replaces the roster file)")
	return cmd
}

func (a *app) runConversation(ctx context.Context, opts *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.message == "" && opts.conversationID == "" {
		return fmt.Errorf("%w: --message or --conversation is required", domain.ErrInvalidInput)
	}

	if opts.agentsFile == "" && opts.dbPath == "" {
		opts.agentsFile = a.cfg.Store.AgentsFile
	}
	useDB := opts.dbPath != "" || opts.agentsFile == ""
	if opts.dbPath == "" && (useDB || opts.conversationID != "") {
		opts.dbPath = a.cfg.Store.Path
	}

	var db *store.SQLiteStore
	if opts.dbPath != "" {
		var err error
		db, err = store.NewSQLiteStore(opts.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	var agents domain.AgentStore = db
	ids := opts.agentIDs
	if useDB && len(ids) == 0 {
		stored, err := db.ListAgents(ctx, opts.userID)
		if err != nil {
			return err
		}
		for _, p := range stored {
			ids = append(ids, p.AgentID)
		}
	}
	if !useDB {
		fs, err := store.LoadFileAgentStore(opts.agentsFile)
		if err != nil {
			return err
		}
		agents = fs
		if len(ids) == 0 {
			for _, p := range fs.Agents() {
				ids = append(ids, p.AgentID)
			}
		}
	}

	roster, err := multiagent.AssembleRoster(ctx, agents, opts.userID, ids, a.log)
	if err != nil {
		return err
	}

	var history []domain.Message
	if opts.conversationID != "" {
		history, err = db.LoadMessages(ctx, opts.conversationID)
		if err != nil {
			return err
		}
	}

	llms, err := initLLM(a.cfg, a.log)
	if err != nil {
		return err
	}
	orch := conversation.New(a.cfg.Conversation, a.cfg.Supervisor, llms.Factory, llms.Supervisor, a.log)

	events, err := orch.Run(ctx, conversation.Request{
		ConversationID: opts.conversationID,
		UserID:         opts.userID,
		Message:        opts.message,
		Agents:         roster,
		History:        history,
		MaxTurns:       opts.maxTurns,
	})
	if err != nil {
		return err
	}

	out := newPrinter(os.Stdout)
	var (
		final  *domain.ConversationState
		failed string
	)
	for ev := range events {
		out.Print(ev)
		if ev.Terminal() {
			final = ev.State
		}
		if ev.Type == domain.EventError {
			failed = ev.Message
		}
	}

	if final == nil {
		return ctx.Err()
	}
	if db != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		delta := final.Messages[len(history):]
		if err := db.AppendMessages(saveCtx, final.ConversationID, opts.userID, delta); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "saved conversation %s (%d new messages)\n", final.ConversationID, len(delta))
	}
	if failed != "" {
		return fmt.Errorf("conversation %s failed: %s", final.ConversationID, failed)
	}
	return nil
}
