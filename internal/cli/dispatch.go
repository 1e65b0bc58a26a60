package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/destination"
)

type dispatchOptions struct {
	CatalogPath string
	NoDeliver   bool
	Strict      bool
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &dispatchOptions{}

	cmd := &cobra.Command{
		Use:   "dispatch <scenario.yaml>",
		Short: "Dry-run a scenario through the orchestrator and destinations",
		Long: `Loads the scenario's flows and resources into a catalog, runs every
rule with a dry-run workflow invoker and sends the merged profile to the
scenario's destinations.

Flow definitions drive the dry run:

  fail: <message>      the workflow fails with this error
  response: {...}      mapping reshaped into the flow response
  traits: {...}        mapping merged into the profile traits
  session: {...}       mapping merged into the session context`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd.Context(), rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CatalogPath, "db", "", "SQLite catalog path (overrides catalog_path)")
	cmd.Flags().BoolVar(&opts.NoDeliver, "no-deliver", false, "skip destination delivery")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 when any workflow failed")

	return cmd
}

type dispatchReport struct {
	EventTypes    []string             `json:"event_types"`
	InvokedRules  map[string][]string  `json:"invoked_rules"`
	InvokedFlows  []string             `json:"invoked_flows"`
	FlowResponses []map[string]any     `json:"flow_responses"`
	Diagnostics   ruleflow.Diagnostics `json:"diagnostics"`
	Profile       *ruleflow.Profile    `json:"profile,omitempty"`
	Session       *ruleflow.Session    `json:"session,omitempty"`
	Console       []ruleflow.LogEntry  `json:"console"`
	Deliveries    []string             `json:"deliveries,omitempty"`
}

func runDispatch(ctx context.Context, rootOpts *RootOptions, opts *dispatchOptions, path string, cmd *cobra.Command) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	scenario, err := LoadScenario(path)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "load scenario", err))
	}

	rt, err := newRuntime(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(err)
	}
	defer func() {
		if serr := rt.shutdown(ctx); serr != nil && err == nil {
			err = serr
		}
	}()

	catalogPath := rt.settings.CatalogPath
	if opts.CatalogPath != "" {
		catalogPath = opts.CatalogPath
	}
	catalog, err := openCatalog(catalogPath)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "open catalog", err))
	}
	defer catalog.Close()

	for i := range scenario.Flows {
		if err := catalog.PutFlow(ctx, &scenario.Flows[i]); err != nil {
			return f.Fail(WrapExitError(ExitCommandError, "store flow", err))
		}
	}
	for i := range scenario.Resources {
		if err := catalog.PutResource(ctx, &scenario.Resources[i]); err != nil {
			return f.Fail(WrapExitError(ExitCommandError, "store resource", err))
		}
	}
	f.VerboseLog("catalog: %d flows, %d resources", len(scenario.Flows), len(scenario.Resources))

	orch, err := ruleflow.New(catalog, newDryRunInvoker(),
		ruleflow.WithLogger(rt.logger),
		ruleflow.WithMetrics(rt.metrics),
		ruleflow.WithSpanManager(rt.spans),
		ruleflow.WithConsentEnforcement(rt.settings.EnforceConsents),
		ruleflow.WithDiagnosticsByRuleID(rt.settings.DiagnosticsByRuleID),
		ruleflow.WithMergePolicy(ruleflow.ParseMergePolicy(rt.settings.MergePolicy)),
	)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "create orchestrator", err))
	}

	res, err := orch.Invoke(ctx, ruleflow.InvokeRequest{
		Events:  scenario.EventRules(),
		Profile: scenario.Profile,
		Session: scenario.Session,
		Tracker: scenario.Tracker,
	})
	if err != nil {
		return f.Fail(WrapExitError(ExitFailure, "invoke", err))
	}

	var deliveries []string
	if !opts.NoDeliver && len(scenario.Destinations) > 0 {
		deliveries, err = deliver(ctx, rt, catalog, scenario, res)
		if err != nil {
			return f.Fail(WrapExitError(ExitFailure, "deliver", err))
		}
	}

	report := dispatchReport{
		EventTypes:    res.EventTypes,
		InvokedRules:  res.InvokedRules,
		InvokedFlows:  res.InvokedFlows,
		FlowResponses: res.FlowResponses,
		Diagnostics:   res.Diagnostics,
		Profile:       res.Profile,
		Session:       res.Session,
		Console:       res.Console.Entries(),
		Deliveries:    deliveries,
	}
	failed := failedDiagnostics(res.Diagnostics)

	status := "ok"
	if failed > 0 && opts.Strict {
		status = "error"
	}
	if err := f.Result(status, report, func(w io.Writer) { renderDispatch(w, report) }); err != nil {
		return err
	}
	if failed > 0 && opts.Strict {
		return NewExitError(ExitFailure, fmt.Sprintf("%d workflow(s) failed", failed))
	}
	return nil
}

// deliver sends the merged profile to the scenario destinations and
// returns what the built-in adapters wrote.
func deliver(
	ctx context.Context,
	rt *runtime,
	resources destination.ResourceStore,
	scenario *Scenario,
	res *ruleflow.Result,
) ([]string, error) {
	out := &lockedBuffer{}
	sink := destination.NewBatchSink(
		func(_ context.Context, dest destination.Destination, batch []destination.Delivery) error {
			_, err := fmt.Fprintf(out, "%s batch of %d\n", dest.ID, len(batch))
			return err
		},
		destination.WithBatchDefaults(rt.settings.Batch.MaxSize, rt.settings.Batch.IdleTimeout),
		destination.WithBatchLogger(rt.logger),
		destination.WithBatchMetrics(rt.metrics),
	)

	registry := destination.NewRegistry()
	registry.MustRegister(destination.LogAdapterPath, destination.NewLogAdapterFactory(out))
	registry.MustRegister(destination.BatchAdapterPath, sink.Factory())

	mgr, err := destination.NewManager(registry, resources,
		destination.WithPostpone(rt.settings.PostponeDestinationSync),
		destination.WithInstanceID(rt.settings.InstanceID),
		destination.WithLogger(rt.logger),
		destination.WithMetrics(rt.metrics),
		destination.WithSpanManager(rt.spans),
	)
	if err != nil {
		return nil, err
	}
	defer mgr.Close()

	events := postInvokeEvents(res)
	scope := destination.Scope{Profile: res.Profile, Session: res.Session}
	if len(events) > 0 {
		scope.Event = &events[len(events)-1]
	}
	profileID := ""
	var delta map[string]any
	if res.Profile != nil {
		profileID = res.Profile.ID
		delta = res.Profile.Traits
	}

	if err := mgr.Send(ctx, scope, scenario.Destinations, profileID, events, delta, scenario.Tracker.Debug); err != nil {
		return nil, err
	}
	if q := mgr.Queue(); q != nil {
		if err := q.Flush(ctx); err != nil {
			return nil, err
		}
	}
	if err := sink.Close(ctx); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

// lockedBuffer is shared by adapters that write from the caller and from
// idle purge timers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func failedDiagnostics(d ruleflow.Diagnostics) int {
	n := 0
	for _, byRule := range d {
		for _, diag := range byRule {
			if diag.Failed() {
				n++
			}
		}
	}
	return n
}

func renderDispatch(w io.Writer, r dispatchReport) {
	fmt.Fprintf(w, "flows invoked: %s\n", strings.Join(r.InvokedFlows, ", "))
	fmt.Fprintf(w, "flow responses: %d\n", len(r.FlowResponses))

	if len(r.Diagnostics) > 0 {
		fmt.Fprintln(w, "diagnostics:")
		types := make([]string, 0, len(r.Diagnostics))
		for t := range r.Diagnostics {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			keys := make([]string, 0, len(r.Diagnostics[t]))
			for k := range r.Diagnostics[t] {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				d := r.Diagnostics[t][k]
				if d.Failed() {
					fmt.Fprintf(w, "  ✗ %s/%s (%s): %s\n", t, k, d.FlowID, d.Errors[0].Message)
				} else {
					fmt.Fprintf(w, "  ✓ %s/%s (%s)\n", t, k, d.FlowID)
				}
			}
		}
	}

	if len(r.Console) > 0 {
		fmt.Fprintln(w, "console:")
		for _, e := range r.Console {
			fmt.Fprintf(w, "  [%s] %s: %s\n", e.Severity, e.Origin, e.Message)
		}
	}

	if len(r.Deliveries) > 0 {
		fmt.Fprintln(w, "deliveries:")
		for _, line := range r.Deliveries {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}
