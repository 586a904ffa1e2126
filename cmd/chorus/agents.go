package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chorus/internal/adapter/store"
)

func newAgentsCmd(a *app) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage stored agent personas",
	}
	cmd.PersistentFlags().StringVar(&userID, "user", "local", "user the agents belong to")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "import <file>",
			Short: "Copy a YAML roster into the SQLite store",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.importAgents(cmd.Context(), args[0], userID)
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored agents",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.listAgents(cmd.Context(), userID)
			},
		},
	)
	return cmd
}

func (a *app) importAgents(ctx context.Context, path, userID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	roster, err := store.LoadFileAgentStore(path)
	if err != nil {
		return err
	}
	db, err := store.NewSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, p := range roster.Agents() {
		if err := db.PutAgent(ctx, userID, p); err != nil {
			return fmt.Errorf("import %s: %w", p.AgentID, err)
		}
	}
	a.log.Info("agents imported", "path", path, "user_id", userID, "count", len(roster.Agents()))
	fmt.Printf("imported %d agents for %s\n", len(roster.Agents()), userID)
	return nil
}

func (a *app) listAgents(ctx context.Context, userID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := store.NewSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	agents, err := db.ListAgents(ctx, userID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tMODEL")
	for _, p := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.AgentID, p.Name, p.Model.Provider, p.Model.ModelName)
	}
	return w.Flush()
}
