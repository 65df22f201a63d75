package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newQueueCommand(open openEngine) *cobra.Command {
	queueCmd := &cobra.Command{Use: "queue", Short: "Queue operations"}

	var (
		owner  string
		filter string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := newCELFilter(filter)
			if err != nil {
				return fmt.Errorf("invalid --filter: %w", err)
			}
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			owners := []string{owner}
			if owner == "" {
				owners, err = e.Owners()
				if err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNER\tENTITY\tOP\tPRIO\tRETRIES\tENQUEUED\tNEXT ATTEMPT")
			total := 0
			for _, o := range owners {
				items, err := e.Queue(o)
				if err != nil {
					return err
				}
				for i := range items {
					if !f.Eval(&items[i]) {
						continue
					}
					next := "-"
					if !items[i].RetryAt.IsZero() {
						next = items[i].RetryAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
						items[i].ID.String(),
						items[i].OwnerID(),
						items[i].EntityType(),
						items[i].Operation,
						items[i].Priority(),
						items[i].RetryCount,
						items[i].EnqueuedAt.Format(time.RFC3339),
						next)
					total++
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d item(s)\n", total)
			return nil
		},
	}
	listCmd.Flags().StringVar(&owner, "owner", "", "Limit to one owner")
	listCmd.Flags().StringVar(&filter, "filter", "", "CEL expression over owner, entity, operation, priority, retry_count, enqueued_ms, json, now_ms")
	queueCmd.AddCommand(listCmd)

	clearHaltCmd := &cobra.Command{
		Use:   "clear-halt",
		Short: "Lift a persisted encryption halt",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.ClearHalt(); err != nil {
				return err
			}
			fmt.Println("halt cleared")
			return nil
		},
	}
	queueCmd.AddCommand(clearHaltCmd)

	return queueCmd
}
