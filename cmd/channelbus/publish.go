package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/next-trace/scg-channel-bus/envelope"
)

func newPublishCmd(a *app) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "publish <channel> <message>",
		Short: "Publish a message on a channel and wait until the transport accepted it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.publish(cmd.Context(), cmd.OutOrStdout(), target, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&target, "target", envelope.Broadcast, "filter id of the receiving process")

	return cmd
}

func (a *app) publish(ctx context.Context, out io.Writer, target, channel, message string) error {
	sb, cleanup, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sb.Publish(ctx, target, channel, message).Wait(ctx); err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "published %s to %s\n", channel, target)

	return err
}
