package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/abcflow/internal/application/inference"
	"github.com/turtacn/abcflow/internal/domain/run"
	"github.com/turtacn/abcflow/pkg/errors"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
		Long: "Read runs from the run store (postgres.enabled) or the result archive (minio.enabled).  " +
			"get falls back to the archive when no store is configured; archived and --presign need the archive.",
	}
	cmd.AddCommand(newRunsGetCmd(), newRunsListCmd(), newRunsArchivedCmd(), newRunsDeleteCmd())
	return cmd
}

func newRunsGetCmd() *cobra.Command {
	var (
		showSamples bool
		presign     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, cliCtx *CLIContext, svc inference.Service) error {
				r, err := svc.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				view := runView{Run: r, showSamples: showSamples || cliCtx.Verbose}
				if presign > 0 {
					if view.downloadURL, err = svc.DownloadURL(ctx, r.ID, presign); err != nil {
						return err
					}
				}
				return PrintResult(cmd, view)
			})
		},
	}
	cmd.Flags().BoolVar(&showSamples, "show-samples", false, "include accepted samples in text and table output")
	cmd.Flags().DurationVar(&presign, "presign", 0, "also print a download link to the archived document, valid this long (e.g. 15m)")
	return cmd
}

func newRunsListCmd() *cobra.Command {
	var (
		method string
		status string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []run.ListOption{run.WithPagination(offset, limit)}
			if method != "" {
				m := run.Method(strings.ToLower(method))
				if !m.IsValid() {
					return errors.Newf(errors.ErrCodeValidation, "invalid method %q (rejection, smc)", method)
				}
				opts = append(opts, run.WithMethod(m))
			}
			if status != "" {
				s := run.Status(strings.ToLower(status))
				if !s.IsTerminal() && s != run.StatusRunning {
					return errors.Newf(errors.ErrCodeValidation, "invalid status %q (running, completed, partial, failed)", status)
				}
				opts = append(opts, run.WithStatus(s))
			}

			return withService(cmd, func(ctx context.Context, _ *CLIContext, svc inference.Service) error {
				runs, err := svc.ListRuns(ctx, opts...)
				if err != nil {
					return err
				}
				return PrintResult(cmd, runList(runs))
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "filter by method (rejection, smc)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (running, completed, partial, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list (1-100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	return cmd
}

func newRunsArchivedCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "archived",
		Short: "List the ids of archived runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, _ *CLIContext, svc inference.Service) error {
				ids, err := svc.ArchivedRuns(ctx, limit)
				if err != nil {
					return err
				}
				return PrintResult(cmd, archivedList(ids))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum ids to list (0 lists all)")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run from the store and the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, _ *CLIContext, svc inference.Service) error {
				if err := svc.DeleteRun(ctx, args[0]); err != nil {
					return err
				}
				return PrintResult(cmd, fmt.Sprintf("deleted %s", args[0]))
			})
		},
	}
}

type archivedList []string

func (l archivedList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

func (l archivedList) String() string {
	if len(l) == 0 {
		return "no archived runs"
	}
	return strings.Join(l, "\n")
}

func (l archivedList) TableHeaders() []string { return []string{"RUN"} }

func (l archivedList) TableRows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, id := range l {
		rows = append(rows, []string{id})
	}
	return rows
}

type runList []*run.Run

func (l runList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]*run.Run(l))
}

func (l runList) String() string {
	if len(l) == 0 {
		return "no runs"
	}
	return strings.TrimRight(FormatTable(l.TableHeaders(), l.TableRows()), "\n")
}

func (l runList) TableHeaders() []string { return runHeaders }

func (l runList) TableRows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		rows = append(rows, runRow(r))
	}
	return rows
}

//Personal.AI order the ending
