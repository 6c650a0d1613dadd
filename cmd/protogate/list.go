package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/protogate/protogate/pkg/dynamic"
	"github.com/protogate/protogate/pkg/reflection"
)

func newListCmd(flags *rootFlags) *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "list [service]",
		Short: "List services of a reflecting peer, or the methods of one service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				conn, err := grpc.NewClient(host, grpc.WithTransportCredentials(insecure.NewCredentials()))
				if err != nil {
					return fmt.Errorf("dialing %s: %w", host, err)
				}
				defer conn.Close()

				services, err := reflection.NewClient(conn).ListServices(ctx)
				if err != nil {
					return err
				}
				for _, svc := range services {
					fmt.Fprintln(cmd.OutOrStdout(), svc)
				}
				return nil
			}

			client, err := dynamic.Dial(ctx, host, args[0], dynamic.WithLogger(flags.logger()))
			if err != nil {
				return err
			}
			defer client.Close()

			for _, name := range client.Methods() {
				method := client.Method(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", method.FullPath(), method.Type)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost:9000", "address of the gRPC server")
	return cmd
}
