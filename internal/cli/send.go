package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ehf/pkg/dispatch"
)

type sendOptions struct {
	sender       string
	receiver     string
	documentType string
	process      string
	known        bool
	showResponse bool
}

func newSendCmd(a *app) *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a document to the receiver's access point",
		Long: `Send a UBL document. The receiver's access point is found through the
configured directory unless --known is given, in which case the service
endpoint from the configuration is used.

Example:
  ehf send --sender 9908:810017902 --receiver 9908:974763907 invoice.xml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			document, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading document: %w", err)
			}
			c, err := a.newClient(cmd)
			if err != nil {
				return err
			}

			send := c.Send
			if opts.known {
				send = c.SendKnown
			}
			res, err := send(cmd.Context(), document, opts.sender, opts.receiver, opts.documentType, opts.process)
			if err != nil {
				return err
			}
			printResult(cmd, res, opts.showResponse)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.sender, "sender", "", "sender participant identifier (required)")
	cmd.Flags().StringVar(&opts.receiver, "receiver", "", "receiver participant identifier (required)")
	cmd.Flags().StringVar(&opts.documentType, "document-type", "", "document type identifier (default EHF invoice)")
	cmd.Flags().StringVar(&opts.process, "process", "", "process identifier (default the document's ProfileID)")
	cmd.Flags().BoolVar(&opts.known, "known", false, "send to the configured service endpoint")
	cmd.Flags().BoolVar(&opts.showResponse, "show-response", false, "print the access point's response")
	_ = cmd.MarkFlagRequired("sender")
	_ = cmd.MarkFlagRequired("receiver")
	return cmd
}

func printResult(cmd *cobra.Command, res *dispatch.Result, showResponse bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "message id: %s\n", res.MessageID)
	if res.Endpoint != nil && res.Endpoint.Address != nil {
		fmt.Fprintf(out, "access point: %s\n", res.Endpoint.Address.Redacted())
	}
	fmt.Fprintf(out, "elapsed: %s\n", res.Elapsed)
	if showResponse {
		fmt.Fprintf(out, "%s\n", res.Response)
	}
}
