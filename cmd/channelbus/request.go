package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/next-trace/scg-channel-bus/internal/jsoncodec"
	"github.com/next-trace/scg-channel-bus/servicebus"
)

func newRequestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "request <target> <key> [json]",
		Short: "Ask the target process for data and print its response",
		Long: "Sends a data request to the responder registered under key on the target process. " +
			"Prints the response data and latency, or \"timeout\" when nothing answers in time.",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 3 {
				raw = args[2]
			}

			return a.request(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], raw)
		},
	}
}

// parseObject decodes a JSON object argument; empty input is an empty object.
func parseObject(raw string) (servicebus.Object, error) {
	data := servicebus.Object{}
	if raw == "" {
		return data, nil
	}

	if err := jsoncodec.UnmarshalString(raw, &data); err != nil {
		return nil, fmt.Errorf("request data must be a JSON object: %w", err)
	}

	return data, nil
}

func (a *app) request(ctx context.Context, out io.Writer, target, key, raw string) error {
	data, err := parseObject(raw)
	if err != nil {
		return err
	}

	sb, cleanup, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sb.StartListeners(ctx); err != nil {
		return err
	}

	res, err := sb.Request(ctx, target, key, data)
	if err != nil {
		return err
	}

	if !res.Received {
		_, err = fmt.Fprintln(out, "timeout")
		return err
	}

	body, err := jsoncodec.MarshalString(res.Data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "%s\t%dms\n", body, res.LatencyMillis())

	return err
}
