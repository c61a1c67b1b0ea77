package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/harun/nexus/pkg/eventhub"
	"github.com/harun/nexus/pkg/gateway"
	"github.com/harun/nexus/pkg/session"
	"github.com/spf13/cobra"
)

var (
	runStreaming      bool
	runJSON           bool
	runUserID         string
	runIdempotencyKey string
)

var errSessionNotCompleted = errors.New("session did not complete")

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run an agent session on the gateway",
	Long: `Submit a query to a running Nexus gateway and print the session's steps.
By default the steps are streamed as they happen; --stream=false waits for the
final result instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow the event stream of a session",
	Long: `Replay a session's events from the beginning and follow it live until
the session finishes.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var watchAfter int64

func init() {
	runCmd.Flags().BoolVar(&runStreaming, "stream", true, "stream steps as they happen")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print raw JSON instead of text")
	runCmd.Flags().StringVar(&runUserID, "user", "", "user id recorded in session metadata")
	runCmd.Flags().StringVar(&runIdempotencyKey, "idempotency-key", "", "reuse the session started with the same key")
	rootCmd.AddCommand(runCmd)

	watchCmd.Flags().Int64Var(&watchAfter, "after", 0, "skip events up to this sequence number")
	watchCmd.Flags().BoolVar(&runJSON, "json", false, "print raw JSON instead of text")
	rootCmd.AddCommand(watchCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	req := gateway.RunRequest{
		Query:          strings.Join(args, " "),
		UserID:         runUserID,
		IdempotencyKey: runIdempotencyKey,
	}
	client := newAPIClient(serverURL, 0)
	out := cmd.OutOrStdout()

	if !runStreaming {
		resp, err := client.run(cmd.Context(), req)
		if err != nil {
			return err
		}
		if runJSON {
			fmt.Fprintln(out, prettyJSON(resp))
		} else {
			printRunResponse(out, resp)
		}
		if resp.Status != session.StateCompleted {
			return fmt.Errorf("%w: %s", errSessionNotCompleted, resp.Status)
		}
		return nil
	}

	return followEvents(out, func(fn func(eventhub.Event) error) error {
		return client.runStream(cmd.Context(), req, fn)
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL, 0)
	return followEvents(cmd.OutOrStdout(), func(fn func(eventhub.Event) error) error {
		return client.watch(cmd.Context(), args[0], watchAfter, fn)
	})
}

// followEvents prints every event of a stream and reports how the session ended.
func followEvents(out io.Writer, stream func(func(eventhub.Event) error) error) error {
	var last eventhub.Event
	err := stream(func(ev eventhub.Event) error {
		last = ev
		if runJSON {
			fmt.Fprintln(out, prettyJSON(ev))
			return nil
		}
		printEvent(out, ev)
		return nil
	})
	if err != nil {
		return err
	}

	switch last.Type {
	case eventhub.EventExecutionComplete:
		return nil
	case eventhub.EventError, eventhub.EventCancelled:
		return fmt.Errorf("%w: %s", errSessionNotCompleted, last.Type)
	default:
		return fmt.Errorf("stream ended before the session finished")
	}
}

func printEvent(out io.Writer, ev eventhub.Event) {
	switch ev.Type {
	case eventhub.EventSessionStart:
		fmt.Fprintf(out, "Session %s started\n", ev.SessionID)
		fmt.Fprintf(out, "Query: %s\n\n", ev.Query)
	case eventhub.EventStepUpdate:
		switch session.StepStatus(ev.Status) {
		case session.StepInProgress:
			fmt.Fprintf(out, "[%d] %s\n", ev.StepNumber, ev.Thought)
			if ev.Action != nil {
				fmt.Fprintf(out, "    -> %s %s\n", ev.Action.Tool, compactJSON(ev.Action.Arguments))
			}
		case session.StepCompleted:
			if ev.Observation != nil {
				fmt.Fprintf(out, "    <- %s\n", truncate(compactJSON(ev.Observation.Payload), 160))
			}
		default:
			fmt.Fprintf(out, "    !! %s\n", ev.Status)
		}
	case eventhub.EventExecutionComplete:
		fmt.Fprintf(out, "\nCompleted\n%s\n", prettyJSON(ev.Result))
	case eventhub.EventError:
		fmt.Fprintf(out, "\nFailed at step %d (%s): %s\n", ev.StepNumber, ev.ErrorKind, ev.Error)
	case eventhub.EventCancelled:
		fmt.Fprintf(out, "\nCancelled at step %d\n", ev.StepNumber)
	}
}

func printRunResponse(out io.Writer, resp *gateway.RunResponse) {
	fmt.Fprintf(out, "Session: %s\n", resp.SessionID)
	fmt.Fprintf(out, "Query: %s\n", resp.Query)
	fmt.Fprintf(out, "Status: %s (%.2fs)\n", resp.Status, resp.ExecutionTimeSeconds)
	for _, step := range resp.Steps {
		fmt.Fprintf(out, "[%d] %s %s (%s, attempts %d)\n",
			step.Number, step.Action.Tool, compactJSON(step.Action.Arguments), step.Status, step.Attempts)
	}
	if resp.Error != nil {
		fmt.Fprintf(out, "Error: %s: %s\n", resp.Error.Kind, resp.Error.Message)
	}
	if resp.FinalResult != nil {
		fmt.Fprintf(out, "Result:\n%s\n", prettyJSON(resp.FinalResult))
	}
}

func compactJSON(v interface{}) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
