package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/vigil/pkg/client"
)

func addClientFlags(cmd *cobra.Command, f *ClientFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://127.0.0.1:9600/api", "daemon API base URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "daemon API request timeout")
}

func newClient(f ClientFlags) (*client.Client, context.Context, context.CancelFunc, error) {
	c := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
	ctx, cancel := context.WithTimeout(context.Background(), f.APITimeout)
	if !c.IsReachable(ctx) {
		cancel()
		return nil, nil, nil, fmt.Errorf("daemon not reachable at %s - start it with 'vigil serve'", f.APIUrl)
	}
	return c, ctx, cancel, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newStatusCmd() *cobra.Command {
	var f ClientFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the fleet snapshot with health summaries",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, ctx, cancel, err := newClient(f)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	addClientFlags(cmd, &f)
	return cmd
}

func newHealthCmd() *cobra.Command {
	var f ClientFlags
	cmd := &cobra.Command{
		Use:   "health [name]",
		Short: "Show rolling health records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, ctx, cancel, err := newClient(f)
			if err != nil {
				return err
			}
			defer cancel()
			if len(args) == 1 {
				rec, err := c.Health(ctx, args[0])
				if err != nil {
					return err
				}
				printJSON(rec)
				return nil
			}
			recs, err := c.HealthAll(ctx)
			if err != nil {
				return err
			}
			printJSON(recs)
			return nil
		},
	}
	addClientFlags(cmd, &f)
	return cmd
}

func newAlertsCmd() *cobra.Command {
	var f ClientFlags
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show recent alerts, newest last",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, ctx, cancel, err := newClient(f)
			if err != nil {
				return err
			}
			defer cancel()
			out, err := c.Alerts(ctx)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	addClientFlags(cmd, &f)
	return cmd
}

func newCheckCmd() *cobra.Command {
	var f ClientFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a deep-health pass now",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, ctx, cancel, err := newClient(f)
			if err != nil {
				return err
			}
			defer cancel()
			if err := c.Check(ctx); err != nil {
				return err
			}
			fmt.Println("deep-health pass completed")
			return nil
		},
	}
	addClientFlags(cmd, &f)
	return cmd
}

func newRestartCmd() *cobra.Command {
	var f ClientFlags
	cmd := &cobra.Command{
		Use:   "restart <name>",
		Short: "Manually restart one process",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, ctx, cancel, err := newClient(f)
			if err != nil {
				return err
			}
			defer cancel()
			if err := c.Remediate(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("restart of %s requested\n", args[0])
			return nil
		},
	}
	addClientFlags(cmd, &f)
	return cmd
}

func newLogsCmd() *cobra.Command {
	var f LogsFlags
	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Fetch recent process output through the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, ctx, cancel, err := newClient(f.ClientFlags)
			if err != nil {
				return err
			}
			defer cancel()
			lines, err := c.Logs(ctx, args[0], f.Lines, f.ErrorOnly)
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Println(l)
			}
			return nil
		},
	}
	addClientFlags(cmd, &f.ClientFlags)
	cmd.Flags().IntVar(&f.Lines, "lines", 50, "number of log lines")
	cmd.Flags().BoolVar(&f.ErrorOnly, "error-only", false, "only error output")
	return cmd
}
