package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/glimte/svcbus"
)

func parseMessage(arg string) (map[string]any, error) {
	var message map[string]any
	if err := json.Unmarshal([]byte(arg), &message); err != nil {
		return nil, fmt.Errorf("message must be a JSON object: %w", err)
	}
	return message, nil
}

func newPublishCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <json-object>",
		Short: "Publish an event to the service exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := parseMessage(args[0])
			if err != nil {
				return err
			}

			svc, err := a.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.PublishEvent(cmd.Context(), message); err != nil {
				return fmt.Errorf("failed to publish: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", svc.Config().ExchangeName)
			return nil
		},
	}
}

func newRequestCmd(a *app) *cobra.Command {
	var (
		target   string
		exchange string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "request <json-object>",
		Short: "Send a request and print the reply",
		Long:  "Sends a request to another service's queue and waits for its reply. A timeout prints the timeout body.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := parseMessage(args[0])
			if err != nil {
				return err
			}

			svc, err := a.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			opts := []svcbus.RequestOption{svcbus.WithTargetRoutingKey(target)}
			if exchange != "" {
				opts = append(opts, svcbus.WithTargetExchange(exchange))
			}
			if timeout > 0 {
				opts = append(opts, svcbus.WithTimeout(timeout))
			}

			result, err := svc.Request(cmd.Context(), message, opts...)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"status":         result.Status,
				"correlation_id": result.CorrelationID,
				"body":           result.Body,
			})
		},
	}
	cmd.Flags().StringVarP(&target, "to", "t", "", "Routing key of the target service queue, e.g. user_routing_key")
	cmd.Flags().StringVar(&exchange, "exchange", "", "Exchange to publish to instead of the default exchange")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Reply timeout (default SVCBUS_RPC_TIMEOUT)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
