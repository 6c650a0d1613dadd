package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/protogate/protogate/pkg/dynamic"
)

func newCallCmd(flags *rootFlags) *cobra.Command {
	var (
		host    string
		data    string
		timeout time.Duration
		retries uint64
	)
	cmd := &cobra.Command{
		Use:   "call SERVICE METHOD",
		Short: "Invoke a method with a JSON request body",
		Long: `Invoke a unary method of a reflecting gRPC service.

The request body is a JSON object passed via --data, either inline or as
@path/to/file. Missing fields keep their proto defaults, unknown keys are
ignored. The response is printed as JSON.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			input, err := parseData(data)
			if err != nil {
				return err
			}

			client, err := dynamic.Dial(ctx, host, args[0],
				dynamic.WithMaxRetries(retries),
				dynamic.WithLogger(flags.logger()),
			)
			if err != nil {
				return err
			}
			defer client.Close()

			var opts []dynamic.CallOption
			if timeout > 0 {
				opts = append(opts, dynamic.WithTimeout(timeout))
			}
			out, err := client.Invoke(ctx, args[1], input, opts...)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost:9000", "address of the gRPC server")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body, or @file to read it from a file")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "deadline for the whole call, retries included")
	cmd.Flags().Uint64Var(&retries, "retries", dynamic.DefaultMaxRetries, "max retries for transient failures")
	return cmd
}

func parseData(data string) (map[string]any, error) {
	if data == "" {
		return nil, nil
	}
	raw := []byte(data)
	if strings.HasPrefix(data, "@") {
		var err error
		raw, err = os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}
	return input, nil
}
