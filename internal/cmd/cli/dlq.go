package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newDLQCommand(open openEngine) *cobra.Command {
	dlqCmd := &cobra.Command{Use: "dlq", Short: "Dead-letter queue operations"}

	var max int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter entries, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := e.DeadLetters(max)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENTRY\tOWNER\tENTITY\tOP\tRETRIES\tFAILED\tREASON")
			for _, entry := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					entry.ID,
					entry.Item.OwnerID(),
					entry.Item.EntityType(),
					entry.Item.Operation,
					entry.Item.RetryCount,
					entry.FailedAt.Format(time.RFC3339),
					entry.Reason)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d entry(ies)\n", len(entries))
			return nil
		},
	}
	listCmd.Flags().IntVar(&max, "max", 0, "Maximum entries to show (0 = all)")
	dlqCmd.AddCommand(listCmd)

	retryCmd := &cobra.Command{
		Use:   "retry <entry-id>",
		Short: "Move a dead-letter entry back to the live queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.RetryDeadLetter(args[0]); err != nil {
				return err
			}
			fmt.Println("entry re-enqueued")
			return nil
		},
	}
	dlqCmd.AddCommand(retryCmd)

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every dead-letter entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()
			n, err := e.PurgeDeadLetters()
			if err != nil {
				return err
			}
			fmt.Printf("purged %d entry(ies)\n", n)
			return nil
		},
	}
	dlqCmd.AddCommand(purgeCmd)

	return dlqCmd
}
