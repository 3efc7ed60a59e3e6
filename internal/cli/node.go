package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edvin/mfafarm/internal/model"
)

func parseService(name string) (model.Service, error) {
	switch svc := model.Service(name); svc {
	case model.ServiceMFA, model.ServiceNotifHub:
		return svc, nil
	}
	return "", fmt.Errorf("unknown service %q (want %s or %s)", name, model.ServiceMFA, model.ServiceNotifHub)
}

func (s *session) serviceCmd() *cobra.Command {
	var node string
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Start or stop a farm service on one node",
	}
	cmd.PersistentFlags().StringVar(&node, "node", "", "target node FQDN (default: this node)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start <mfa|notifhub>",
			Short: "Start a service and wait for it to run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := parseService(args[0])
				if err != nil {
					return err
				}
				if err := s.farm.StartService(cmd.Context(), svc, node); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s started\n", svc)
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop <mfa|notifhub>",
			Short: "Stop a service and wait for it to halt",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := parseService(args[0])
				if err != nil {
					return err
				}
				if err := s.farm.StopService(cmd.Context(), svc, node); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s stopped\n", svc)
				return nil
			},
		},
	)
	return cmd
}

func (s *session) nodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage the farm topology",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered farm nodes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				nodes, err := s.farm.Nodes(cmd.Context())
				if err != nil {
					return err
				}
				return s.render(cmd, nodes)
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Rediscover the farm roster and save changes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				nodes, err := s.farm.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				return s.render(cmd, nodes)
			},
		},
		&cobra.Command{
			Use:   "add <fqdn>",
			Short: "Ask the named node to register itself",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := s.farm.AddNode(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registration requested for %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <fqdn>",
			Short: "Remove a node from the farm topology",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := s.farm.RemoveNode(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Node %s removed\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
