package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/classwatch/internal/ir"
	"github.com/roach88/classwatch/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Flow     string
	Action   string // optional Provider.operation filter
	Limit    int
}

// FlowListing is one row of the flow list.
type FlowListing struct {
	Flow    string    `json:"flow"`
	Records int       `json:"records"`
	Firings int       `json:"firings"`
	First   time.Time `json:"first"`
	Last    time.Time `json:"last"`
}

// TraceEvent is one record of a flow timeline.
type TraceEvent struct {
	Seq    int64       `json:"seq"`
	ID     string      `json:"id"`
	Action string      `json:"action"`
	Input  ir.IRObject `json:"input"`
	Output ir.IRObject `json:"output,omitempty"`
	Rule   string      `json:"rule,omitempty"` // rule whose effect produced the record
	At     time.Time   `json:"at"`
}

// ProvenanceEdge links a rule firing to the record it produced.
type ProvenanceEdge struct {
	Rule     string `json:"rule"`
	RecordID string `json:"record_id,omitempty"`
	Seq      int64  `json:"seq"`
	Error    string `json:"error,omitempty"`
}

// TraceResult holds the trace of one flow.
type TraceResult struct {
	Flow       string           `json:"flow"`
	Timeline   []TraceEvent     `json:"timeline"`
	Provenance []ProvenanceEdge `json:"provenance"`
	Stats      TraceStats       `json:"stats"`
}

// TraceStats summarizes a flow.
type TraceStats struct {
	Records int `json:"records"`
	Firings int `json:"firings"`
	Failed  int `json:"failed"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect flows recorded in a trace database",
		Long: `Inspect the flows a classwatch process recorded in its trace database.

Without --flow, lists the most recent flows. With --flow, shows the flow's
records in order and, for each record produced by a rule, the rule that
fired it.

Examples:
  classwatch trace --db ./trace.db
  classwatch trace --db ./trace.db --flow 0192f0c4-...
  classwatch trace --db ./trace.db --flow 0192f0c4-... --action Detector.detect
  classwatch trace --db ./trace.db --flow 0192f0c4-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the trace database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Flow, "flow", "", "flow to show")
	cmd.Flags().StringVar(&opts.Action, "action", "", "only show records of this Provider.operation")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of flows to list")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("open trace db: %v", err))
	}
	defer st.Close()

	if opts.Flow == "" {
		return listFlows(ctx, st, opts, f)
	}

	result, err := buildTrace(ctx, st, opts.Flow, opts.Action)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error())
	}
	if f.JSON() {
		return f.Encode(Response{Status: "ok", Data: result})
	}
	printTrace(f, result)
	return nil
}

func listFlows(ctx context.Context, st *store.Store, opts *TraceOptions, f *OutputFormatter) error {
	summaries, err := st.ListFlows(ctx, opts.Limit)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("list flows: %v", err))
	}
	flows := make([]FlowListing, 0, len(summaries))
	for _, s := range summaries {
		flows = append(flows, FlowListing(s))
	}

	if f.JSON() {
		return f.Encode(Response{Status: "ok", Data: flows})
	}
	if len(flows) == 0 {
		f.Printf("No flows recorded.\n")
		return nil
	}
	f.Printf("%-40s %8s %8s  %s\n", "FLOW", "RECORDS", "FIRINGS", "LAST")
	for _, fl := range flows {
		f.Printf("%-40s %8d %8d  %s\n", fl.Flow, fl.Records, fl.Firings, fl.Last.UTC().Format(time.RFC3339))
	}
	return nil
}

// buildTrace reads a flow and attributes each record to the firing that
// produced it. An unknown flow yields an empty trace.
func buildTrace(ctx context.Context, st *store.Store, flow, action string) (TraceResult, error) {
	records, err := st.ReadFlow(ctx, flow)
	if err != nil {
		return TraceResult{}, fmt.Errorf("read flow: %w", err)
	}
	firings, err := st.ReadFirings(ctx, flow)
	if err != nil {
		return TraceResult{}, fmt.Errorf("read firings: %w", err)
	}

	result := TraceResult{
		Flow:       flow,
		Timeline:   []TraceEvent{},
		Provenance: make([]ProvenanceEdge, 0, len(firings)),
		Stats:      TraceStats{Records: len(records), Firings: len(firings)},
	}

	ruleOf := make(map[string]string, len(firings))
	for _, fr := range firings {
		if fr.RecordID != "" {
			ruleOf[fr.RecordID] = fr.Rule
		}
		if fr.Error != "" {
			result.Stats.Failed++
		}
		result.Provenance = append(result.Provenance, ProvenanceEdge{
			Rule:     fr.Rule,
			RecordID: fr.RecordID,
			Seq:      fr.Seq,
			Error:    fr.Error,
		})
	}

	for _, rec := range records {
		name := rec.Provider + "." + rec.Operation
		if action != "" && name != action {
			continue
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:    rec.Seq,
			ID:     rec.ID,
			Action: name,
			Input:  rec.Input,
			Output: rec.Output,
			Rule:   ruleOf[rec.ID],
			At:     rec.At,
		})
	}
	return result, nil
}

func printTrace(f *OutputFormatter, result TraceResult) {
	if result.Stats.Records == 0 {
		f.Printf("No records found for flow: %s\n", result.Flow)
		return
	}

	f.Printf("Flow: %s\n\n", result.Flow)
	for _, ev := range result.Timeline {
		line := fmt.Sprintf("[%d] %s %s", ev.Seq, ev.Action, compact(ev.Input))
		if len(ev.Output) > 0 {
			line += " -> " + compact(ev.Output)
		}
		if ev.Rule != "" {
			line += " (rule " + ev.Rule + ")"
		}
		f.Printf("%s\n", line)
	}

	var failed []string
	for _, edge := range result.Provenance {
		if edge.Error != "" {
			failed = append(failed, fmt.Sprintf("  [%d] %s: %s", edge.Seq, edge.Rule, edge.Error))
		}
	}
	if len(failed) > 0 {
		f.Printf("\nFailed effects:\n%s\n", strings.Join(failed, "\n"))
	}

	f.Printf("\n%d records, %d firings, %d failed\n", result.Stats.Records, result.Stats.Firings, result.Stats.Failed)
}

func compact(obj ir.IRObject) string {
	data, err := ir.MarshalIRValue(obj)
	if err != nil {
		return fmt.Sprintf("%v", ir.ToGo(obj))
	}
	return string(data)
}
