package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(open openEngine) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report engine state",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := e.Status()
			if err != nil {
				return err
			}
			fmt.Printf("halted:      %v\n", st.Halted)
			fmt.Printf("breaker:     %s\n", st.Breaker)
			fmt.Printf("dead-letter: %d\n", st.DeadLetter)
			fmt.Printf("workers:     %d\n", st.Workers)
			if len(st.QueueSizes) == 0 {
				fmt.Println("queues:      empty")
				return nil
			}
			fmt.Println("queues:")
			for owner, size := range st.QueueSizes {
				fmt.Printf("  %s: %d pending\n", owner, size)
			}
			return nil
		},
	}
}
