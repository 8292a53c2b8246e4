package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newValidateCmd(a *app) *cobra.Command {
	var documentType, version string

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a document with the validation service",
		Long: `Post a document to the validation service and print its report. With
--document-type and --version the typed endpoint is used.

Example:
  ehf validate --document-type invoice --version 2.0 invoice.xml`,
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
			res, err := c.Validate(cmd.Context(), document, documentType, version)
			if err != nil {
				return err
			}

			res.Response.Indent(2)
			if _, err := res.Response.WriteTo(cmd.OutOrStdout()); err != nil {
				return err
			}
			a.logger.Debug("validated", "elapsed", res.Elapsed)
			return nil
		},
	}

	cmd.Flags().StringVar(&documentType, "document-type", "", "document type to validate against")
	cmd.Flags().StringVar(&version, "version", "", "document type version")
	cmd.MarkFlagsRequiredTogether("document-type", "version")
	return cmd
}
