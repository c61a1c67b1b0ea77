package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools registered on the gateway",
	RunE:  runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print the full contracts as JSON")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	tools, err := newAPIClient(serverURL, 0).tools(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if toolsJSON {
		fmt.Fprintln(out, prettyJSON(tools))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTIMEOUT\tRETRYABLE\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(w, "%s\t%gs\t%t\t%s\n", t.Name, t.TimeoutSeconds, t.Retryable, t.Description)
	}
	return w.Flush()
}
