package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLookupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <participant>",
		Short: "Show a participant's SMP registration",
		Long: `Locate the SMP serving a participant and list the document types
registered for it.

Example:
  ehf lookup 9908:974763907`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient(cmd)
			if err != nil {
				return err
			}
			sg, target, err := c.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "participant: %s\n", sg.ParticipantID)
			fmt.Fprintf(out, "smp: %s\n", target)
			for _, ref := range sg.ServiceReferences {
				fmt.Fprintf(out, "  %s\n", ref)
			}
			return nil
		},
	}
}
