package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (s *session) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register the MFA provider and initialize the farm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.farm.Register(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "MFA provider registered")
			return nil
		},
	}
}

func (s *session) unregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister",
		Short: "Deactivate and unregister the MFA provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.farm.Unregister(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "MFA provider unregistered")
			return nil
		},
	}
}

func (s *session) enableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Activate the MFA provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.farm.Enable(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "MFA provider enabled")
			return nil
		},
	}
}

func (s *session) disableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Deactivate the MFA provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.farm.Disable(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "MFA provider disabled")
			return nil
		},
	}
}

func (s *session) statusCmd() *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service states on every farm node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if enabledOnly {
				on, err := s.farm.IsEnabled(cmd.Context())
				if err != nil {
					return err
				}
				return s.render(cmd, struct {
					Enabled bool `json:"enabled"`
				}{on})
			}
			nodes, err := s.farm.FarmStatus(cmd.Context())
			if err != nil {
				return err
			}
			return s.render(cmd, nodes)
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only report whether the provider is active")
	return cmd
}

func (s *session) importCmd() *cobra.Command {
	var activate, restart bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a configuration backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.farm.Import(cmd.Context(), args[0], activate, restart); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration imported from %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&activate, "activate", false, "activate the provider after import")
	cmd.Flags().BoolVar(&restart, "restart", false, "restart the MFA service on every node after import")
	return cmd
}

func (s *session) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Export the provider configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.farm.Export(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration exported to %s\n", args[0])
			return nil
		},
	}
}

func (s *session) restartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart services across the farm",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "farm",
			Short: "Restart the MFA service on every node, one at a time",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := s.farm.RestartFarm(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "MFA service restarted on all nodes")
				return nil
			},
		},
		&cobra.Command{
			Use:   "hub",
			Short: "Restart the notification hub on every node, one at a time",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := s.farm.RestartAllFarm(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Notification hub restarted on all nodes")
				return nil
			},
		},
		&cobra.Command{
			Use:   "node <fqdn>",
			Short: "Restart the MFA service on one node",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := s.farm.RestartNode(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "MFA service restarted on %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
