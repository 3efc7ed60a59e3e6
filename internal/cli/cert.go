package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type certificate struct {
	Purpose    string `json:"purpose"`
	Thumbprint string `json:"thumbprint"`
}

func (s *session) certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Issue the farm's self-signed certificates",
	}

	var rsaYears int
	var restart bool
	rsa := &cobra.Command{
		Use:   "rsa",
		Short: "Issue the certificate that protects RSA secret keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			thumb, err := s.farm.RegisterRSACertificate(cmd.Context(), rsaYears, restart)
			if err != nil {
				return err
			}
			return s.render(cmd, certificate{"rsa", thumb})
		},
	}
	rsa.Flags().IntVar(&rsaYears, "years", 5, "validity in years")
	rsa.Flags().BoolVar(&restart, "restart", true, "restart the MFA service on every node afterwards")

	var sqlYears int
	var keyName string
	sql := &cobra.Command{
		Use:   "sql",
		Short: "Issue the column encryption certificate for the secret store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			thumb, err := s.farm.RegisterSQLCertificate(cmd.Context(), sqlYears, keyName)
			if err != nil {
				return err
			}
			return s.render(cmd, certificate{"sql", thumb})
		},
	}
	sql.Flags().IntVar(&sqlYears, "years", 5, "validity in years")
	sql.Flags().StringVar(&keyName, "key-name", "", "column master key name (default adfsmfa)")

	cmd.AddCommand(rsa, sql)
	return cmd
}

func (s *session) themeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "theme",
		Short: "Manage the sign-in page theme",
	}

	var paginated bool
	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Set the sign-in theme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.farm.SetTheme(cmd.Context(), args[0], paginated); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Theme set to %s\n", args[0])
			return nil
		},
	}
	set.Flags().BoolVar(&paginated, "paginated", false, "enable paginated sign-in pages where supported")

	cmd.AddCommand(set)
	return cmd
}
