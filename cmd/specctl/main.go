// Package main implements the specctl CLI for driving spec workflows on a
// running specbot server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/Mantoine56/spec-bot/internal/http"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	server  string
	timeout time.Duration
	json    bool
}

func (o *options) client() *client {
	return newClient(o.server, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "specctl",
		Short: "CLI for specbot workflows",
		Long: `specctl drives phase-gated specification workflows on a specbot server.

A workflow generates requirements, design and tasks documents in order.
Each document waits for approve, revise or reject before the next begins.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	defaultServer := os.Getenv("SPECBOT_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8000"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "specbot server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON responses")

	root.AddCommand(
		newStartCmd(opts),
		newStatusCmd(opts),
		newDecisionCmd(opts, "approve", "Approve the pending document", false),
		newDecisionCmd(opts, "revise", "Request a revision of the pending document", true),
		newDecisionCmd(opts, "reject", "Reject the pending document and fail the workflow", false),
		newResetCmd(opts),
		newCancelCmd(opts),
		newListCmd(opts),
		newFilesCmd(opts),
		newDeleteCmd(opts),
		newHealthCmd(opts),
	)
	return root
}

func newStartCmd(opts *options) *cobra.Command {
	var (
		name, description, provider, model string
		noResearch                         bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new workflow",
		Long: `Start a new workflow for a feature.

Examples:
  specctl start --name "Export Reports" --description "CSV export for reports"

  # Use a different provider
  specctl start --name auth --description "SSO login" --provider anthropic`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := httpapi.StartRequest{
				FeatureName: name,
				Description: description,
				LLMProvider: provider,
				ModelName:   model,
			}
			if cmd.Flags().Changed("no-research") {
				research := !noResearch
				req.EnableResearch = &research
			}

			var resp httpapi.StartResponse
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/spec/start", req, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started workflow %s (%s)\n", resp.WorkflowID, resp.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "feature name")
	cmd.Flags().StringVar(&description, "description", "", "feature description")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider (openai, anthropic, ollama)")
	cmd.Flags().StringVar(&model, "model", "", "model name")
	cmd.Flags().BoolVar(&noResearch, "no-research", false, "disable the research flag")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	var showContent bool
	cmd := &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Show workflow status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.StatusResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/spec/status/"+args[0], nil, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workflow:  %s\n", resp.WorkflowID)
			fmt.Fprintf(out, "Feature:   %s\n", resp.FeatureName)
			fmt.Fprintf(out, "Status:    %s\n", resp.Status)
			fmt.Fprintf(out, "Phase:     %s\n", resp.CurrentPhase)
			fmt.Fprintf(out, "Model:     %s/%s\n", resp.LLMProvider, resp.ModelName)
			fmt.Fprintf(out, "Completed: requirements=%t design=%t tasks=%t\n",
				resp.RequirementsCompleted, resp.DesignCompleted, resp.TasksCompleted)
			if resp.PendingApproval != nil {
				fmt.Fprintf(out, "Pending:   %s approval\n", *resp.PendingApproval)
			}
			if resp.RetryCount > 0 {
				fmt.Fprintf(out, "Retries:   %d\n", resp.RetryCount)
			}
			if resp.LastError != nil {
				fmt.Fprintf(out, "Error:     %s\n", *resp.LastError)
			}
			if showContent && resp.CurrentPhaseContent != nil {
				fmt.Fprintf(out, "\n%s\n", *resp.CurrentPhaseContent)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showContent, "content", false, "print the current phase document")
	return cmd
}

// newDecisionCmd builds approve, revise and reject. They differ only in the
// action sent and whether feedback is mandatory.
func newDecisionCmd(opts *options, action, short string, needFeedback bool) *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   action + " <workflow-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if needFeedback && strings.TrimSpace(feedback) == "" {
				return fmt.Errorf("--feedback is required for %s", action)
			}
			req := httpapi.ApprovalRequest{
				WorkflowID: args[0],
				Action:     action,
				Feedback:   feedback,
			}
			var resp httpapi.ApprovalResponse
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/spec/approve", req, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (phase %s)\n", resp.Message, resp.Status, resp.CurrentPhase)
			return nil
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback for the generator")
	return cmd
}

func newResetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <workflow-id>",
		Short: "Restart a workflow from requirements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, opts, "/api/spec/reset/"+args[0])
		},
	}
}

func newCancelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Cancel a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, opts, "/api/spec/cancel/"+args[0])
		},
	}
}

func runAction(cmd *cobra.Command, opts *options, path string) error {
	var resp httpapi.ActionResponse
	if err := opts.client().do(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
		return err
	}
	if opts.json {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.Message, resp.Status)
	return nil
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httpapi.ListResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/spec/list", nil, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			if resp.Total == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workflows")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFEATURE\tSTATUS\tPHASE\tUPDATED")
			for _, w := range resp.Workflows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					w.ID, w.FeatureName, w.Status, w.Phase, w.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newFilesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "files <workflow-id>",
		Short: "Show the final document paths of a completed workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.FilesResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/spec/files/"+args[0], nil, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			names := make([]string, 0, len(resp.Files))
			for name := range resp.Files {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, resp.Files[name])
			}
			return nil
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <workflow-id>",
		Short: "Delete a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.DeleteResponse
			if err := opts.client().do(cmd.Context(), http.MethodDelete, "/api/spec/"+args[0], nil, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted workflow %s\n", resp.WorkflowID)
			return nil
		},
	}
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check specbot server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httpapi.HealthResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/health", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
