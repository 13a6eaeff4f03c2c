package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/upb/llm-provider-manager/app"
	"github.com/upb/llm-provider-manager/middleware"
	"github.com/upb/llm-provider-manager/services"
	"github.com/upb/llm-provider-manager/services/providers"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe every configured backend and show its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), func(deps *app.Dependencies) error {
				status := deps.Manager.GetStatus(cmd.Context())

				names := make([]string, 0, len(status))
				for name := range status {
					names = append(names, name)
				}
				sort.Strings(names)

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "BACKEND\tHEALTHY\tMODELS\tTASKS")
				for _, name := range names {
					s := status[name]
					tasks := make([]string, len(s.SupportedTasks))
					for i, task := range s.SupportedTasks {
						tasks[i] = string(task)
					}
					fmt.Fprintf(w, "%s\t%t\t%d\t%s\n", name, s.Healthy, len(s.ModelsAvailable), strings.Join(tasks, ", "))
				}

				fmt.Fprintln(w)
				fmt.Fprintln(w, "TASK TYPE\tPRIMARY\tFALLBACK")
				for _, pref := range deps.Manager.Preferences() {
					fmt.Fprintf(w, "%s\t%s\t%s\n", pref.TaskType, pref.Primary, strings.Join(pref.FallbackChain, ", "))
				}
				return w.Flush()
			})
		},
	}
}

func costsCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show persisted spend per backend",
		Long: `Shows the spend recorded in the cost audit database over --window.
Requires DATABASE_URL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), func(deps *app.Dependencies) error {
				if deps.CostRecords == nil {
					return fmt.Errorf("no database configured, set DATABASE_URL")
				}

				spend, err := deps.CostRecords.SpendByBackend(cmd.Context(), time.Now().Add(-window))
				if err != nil {
					return fmt.Errorf("failed to read spend: %w", err)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "BACKEND\tREQUESTS\tTOKENS\tCOST USD")
				var total float64
				for _, s := range spend {
					total += s.CostUSD
					fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\n", s.Backend, s.Requests, s.Tokens, s.CostUSD)
				}
				fmt.Fprintf(w, "TOTAL\t-\t-\t%.4f\n", total)
				return w.Flush()
			})
		},
	}

	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "how far back to aggregate")
	return cmd
}

func completeCmd() *cobra.Command {
	var (
		taskFlag    string
		backendFlag string
		modelFlag   string
		jsonFlag    bool
	)

	cmd := &cobra.Command{
		Use:   "complete [prompt]",
		Short: "Route a single prompt and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := providers.ParseTaskType(taskFlag)
			if err != nil {
				return err
			}

			return withDependencies(cmd.Context(), func(deps *app.Dependencies) error {
				messages := []providers.Message{{Role: providers.RoleUser, Content: args[0]}}
				opts := providers.Options{Model: modelFlag, PreferredBackend: backendFlag}

				result := deps.Manager.Complete(cmd.Context(), messages, task, opts)
				if !result.OK() {
					domainErr := services.FromProviderError(result.Error)
					return fmt.Errorf("completion failed: %s", domainErr.Message)
				}

				out := cmd.OutOrStdout()
				if jsonFlag {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(result)
				}

				fmt.Fprintln(out, result.Content)
				fmt.Fprintf(cmd.ErrOrStderr(), "\n[%s/%s, %d tokens, %s]\n",
					result.Backend, result.Model, result.Usage.TotalTokens, result.Latency.Round(time.Millisecond))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", string(providers.TaskConversation), "task type used for routing")
	cmd.Flags().StringVar(&backendFlag, "backend", "", "pin one backend instead of the routing table")
	cmd.Flags().StringVar(&modelFlag, "model", "", "model override for the first backend tried")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the full result as JSON")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if !cfg.Auth.Enabled() {
				return fmt.Errorf("ADMIN_JWT_SECRET is not set")
			}

			token, err := middleware.NewHMACValidator(cfg.Auth.AdminJWTSecret, cfg.Auth.Issuer).IssueToken(subject, role, ttl)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&role, "role", middleware.RoleAdmin, "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
