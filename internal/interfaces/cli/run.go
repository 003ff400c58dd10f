package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/abcflow/internal/application/inference"
	"github.com/turtacn/abcflow/internal/domain/run"
)

// runFlags are the request overrides shared by the sampling commands.
type runFlags struct {
	runID       string
	samples     int
	batch       int
	epsilon     float64
	epsilons    []float64
	populations int
	seed        uint64
	observed    []float64
	showSamples bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.runID, "run-id", "", "run identifier (default: random UUID)")
	fl.IntVarP(&f.samples, "samples", "n", 0, "accepted samples to draw (default: inference.num_samples)")
	fl.IntVar(&f.batch, "batch", 0, "proposals per round (default: inference.batch_size)")
	fl.Float64VarP(&f.epsilon, "epsilon", "e", 0, "acceptance threshold (default: inference.epsilon)")
	fl.Float64SliceVar(&f.observed, "observed", nil, "observed values (default: inference.model.observed)")
	fl.Uint64Var(&f.seed, "seed", 0, "random seed (default: inference.seed)")
	fl.BoolVar(&f.showSamples, "show-samples", false, "include accepted samples in text and table output")
}

func (f *runFlags) request(cmd *cobra.Command) inference.RunRequest {
	req := inference.RunRequest{
		RunID:       f.runID,
		NumSamples:  f.samples,
		BatchSize:   f.batch,
		Epsilon:     f.epsilon,
		Epsilons:    f.epsilons,
		Populations: f.populations,
		Observed:    f.observed,
	}
	if cmd.Flags().Changed("seed") {
		seed := f.seed
		req.Seed = &seed
	}
	return req
}

func newRejectionCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "rejection",
		Short: "Run rejection ABC",
		Long: "Draw samples from the prior, simulate each one and keep those whose distance\n" +
			"to the observed data is within epsilon.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, run.MethodRejection, f)
		},
	}
	f.register(cmd)
	return cmd
}

func newSMCCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "smc",
		Short: "Run sequential Monte Carlo ABC",
		Long: "Run a sequence of populations with decreasing epsilon.  The schedule starts\n" +
			"at --epsilon unless --epsilons lists the thresholds explicitly.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, run.MethodSMC, f)
		},
	}
	f.register(cmd)
	cmd.Flags().Float64SliceVar(&f.epsilons, "epsilons", nil, "explicit per-population thresholds")
	cmd.Flags().IntVarP(&f.populations, "populations", "p", 0, "number of populations (default: inference.populations)")
	return cmd
}

// executeRun prints whatever run the service returned, including partial and
// failed ones, before reporting the error.
func executeRun(cmd *cobra.Command, method run.Method, f *runFlags) error {
	return withService(cmd, func(ctx context.Context, cliCtx *CLIContext, svc inference.Service) error {
		r, runErr := svc.Run(ctx, method, f.request(cmd))
		if r != nil {
			if err := PrintResult(cmd, runView{Run: r, showSamples: f.showSamples || cliCtx.Verbose}); err != nil {
				return err
			}
		}
		return runErr
	})
}

// runView renders a run for the text and table formats and marshals as the
// plain run for JSON.
type runView struct {
	*run.Run
	showSamples bool
	downloadURL string
}

func (v runView) MarshalJSON() ([]byte, error) {
	type plain run.Run
	if v.downloadURL == "" {
		return json.Marshal((*plain)(v.Run))
	}
	return json.Marshal(struct {
		*plain
		DownloadURL string `json:"download_url"`
	}{(*plain)(v.Run), v.downloadURL})
}

func (v runView) String() string {
	r := v.Run
	var sb strings.Builder
	fmt.Fprintf(&sb, "run:        %s\n", r.ID)
	fmt.Fprintf(&sb, "method:     %s\n", r.Method)
	fmt.Fprintf(&sb, "status:     %s\n", r.Status)
	fmt.Fprintf(&sb, "epsilon:    %s\n", formatFloat(r.Epsilon))
	fmt.Fprintf(&sb, "accepted:   %d/%d\n", r.Accepted, r.NumSamples)
	fmt.Fprintf(&sb, "trials:     %d (acceptance %.4f)\n", r.TrialCount, r.AcceptanceRate())
	fmt.Fprintf(&sb, "estimate:   %s\n", formatFloats(r.Estimate))
	fmt.Fprintf(&sb, "elapsed:    %s\n", r.Elapsed.Round(time.Millisecond))
	if r.ArchiveKey != "" {
		fmt.Fprintf(&sb, "archive:    %s\n", r.ArchiveKey)
	}
	if v.downloadURL != "" {
		fmt.Fprintf(&sb, "download:   %s\n", v.downloadURL)
	}
	if r.Error != "" {
		fmt.Fprintf(&sb, "error:      %s %s\n", r.ErrorCode, r.Error)
	}
	if len(r.Populations) > 0 {
		sb.WriteString("\n")
		sb.WriteString(FormatTable(populationHeaders, populationRows(r.Populations)))
	}
	if v.showSamples && len(r.Samples) > 0 {
		sb.WriteString("\n")
		sb.WriteString(FormatTable(sampleHeaders, sampleRows(r.Samples)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (v runView) TableHeaders() []string {
	if v.showSamples {
		return sampleHeaders
	}
	return runHeaders
}

func (v runView) TableRows() [][]string {
	if v.showSamples {
		return sampleRows(v.Samples)
	}
	return [][]string{runRow(v.Run)}
}

var (
	runHeaders        = []string{"ID", "METHOD", "STATUS", "EPSILON", "ACCEPTED", "TRIALS", "ESTIMATE", "CREATED"}
	populationHeaders = []string{"POPULATION", "EPSILON", "ACCEPTED", "TRIALS", "ESS", "ESTIMATE"}
	sampleHeaders     = []string{"POPULATION", "PARAMETERS", "DISTANCE", "WEIGHT"}
)

func runRow(r *run.Run) []string {
	return []string{
		r.ID,
		string(r.Method),
		string(r.Status),
		formatFloat(r.Epsilon),
		strconv.Itoa(r.Accepted),
		strconv.Itoa(r.TrialCount),
		formatFloats(r.Estimate),
		r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func populationRows(pops []run.PopulationSummary) [][]string {
	rows := make([][]string, 0, len(pops))
	for _, p := range pops {
		rows = append(rows, []string{
			strconv.Itoa(p.Index),
			formatFloat(p.Epsilon),
			strconv.Itoa(p.Accepted),
			strconv.Itoa(p.TrialCount),
			strconv.FormatFloat(p.ESS, 'f', 2, 64),
			formatFloats(p.Estimate),
		})
	}
	return rows
}

func sampleRows(samples []run.Sample) [][]string {
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{
			strconv.Itoa(s.Population),
			formatFloats(s.Parameters),
			formatFloat(s.Distance),
			formatFloat(s.Weight),
		})
	}
	return rows
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

func formatFloats(fs []float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = formatFloat(f)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

//Personal.AI order the ending
