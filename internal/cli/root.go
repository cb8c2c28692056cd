package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ronappleton/lmnp-workflow/internal/config"
	"github.com/ronappleton/lmnp-workflow/internal/logging"
	"github.com/ronappleton/lmnp-workflow/internal/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lmnp-workflow",
		Short:         "LMNP acquisition workflow service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "config.yaml", "Path to config file")
	cmd.AddCommand(NewStepsCommand(), NewFollowUpsCommand())
	return cmd
}

func NewStepsCommand() *cobra.Command {
	var workflowType string
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Print the step catalog as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *workflow.WorkflowType
			if workflowType != "" {
				wt, err := workflow.ParseWorkflowType(workflowType)
				if err != nil {
					return err
				}
				filter = &wt
			}
			return withEngine(cmd, func(ctx context.Context, engine *workflow.Engine) error {
				steps, err := engine.ListSteps(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), steps)
			})
		},
	}
	cmd.Flags().StringVar(&workflowType, "type", "", "Workflow type (acquereur or vendeur)")
	return cmd
}

// NewFollowUpsCommand prints the follow-ups of a lot, for use by an external scheduler.
func NewFollowUpsCommand() *cobra.Command {
	var (
		lotID        string
		workflowType string
		overdueOnly  bool
	)
	cmd := &cobra.Command{
		Use:   "followups",
		Short: "Print the follow-up due dates of a lot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, err := workflow.ParseWorkflowType(workflowType)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, engine *workflow.Engine) error {
				items, err := engine.FollowUps(ctx, lotID, wt, time.Now().UTC())
				if err != nil {
					return err
				}
				if overdueOnly {
					items = filterOverdue(items)
				}
				return printJSON(cmd.OutOrStdout(), items)
			})
		},
	}
	cmd.Flags().StringVar(&lotID, "lot", "", "Lot id")
	cmd.Flags().StringVar(&workflowType, "type", string(workflow.WorkflowAcquereur), "Workflow type (acquereur or vendeur)")
	cmd.Flags().BoolVar(&overdueOnly, "overdue", false, "Only print overdue follow-ups")
	_ = cmd.MarkFlagRequired("lot")
	return cmd
}

func filterOverdue(items []workflow.FollowUp) []workflow.FollowUp {
	out := make([]workflow.FollowUp, 0, len(items))
	for _, item := range items {
		if item.Overdue {
			out = append(out, item)
		}
	}
	return out
}

// withEngine builds the workflow graph without the servers and runs fn against it.
func withEngine(cmd *cobra.Command, fn func(context.Context, *workflow.Engine) error) error {
	configPath, _ := cmd.Flags().GetString("config")
	var engine *workflow.Engine
	app := fx.New(
		config.Module(configPath),
		logging.Module(),
		workflow.Module(),
		fx.Populate(&engine),
	)
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() { _ = app.Stop(context.Background()) }()
	return fn(ctx, engine)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
