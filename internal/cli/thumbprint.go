package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ehf/internal/keystore"
)

func newThumbprintCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "thumbprint <cert.pem>",
		Short: "Print a certificate's SHA-1 thumbprint",
		Long: `Print the thumbprint of a certificate in the form used by the trust
section of the configuration.

Example:
  ehf thumbprint peppol-ap-ca.pem`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := keystore.LoadCertificate(args[0])
			if err != nil {
				return err
			}
			info := keystore.Describe(cert)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "thumbprint: %s\n", info.Thumbprint)
			fmt.Fprintf(out, "subject: %s\n", info.CertificateSubject)
			fmt.Fprintf(out, "name: %s\n", info.SimpleName)
			fmt.Fprintf(out, "key: %s %d\n", info.Algorithm, info.KeySize)
			fmt.Fprintf(out, "valid: %s to %s\n", info.NotBefore.Format(time.DateOnly), info.NotAfter.Format(time.DateOnly))
			return nil
		},
	}
}
