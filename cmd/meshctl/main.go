// cmd/meshctl is the administrative CLI client, built with Cobra.
//
// Usage:
//
//	meshctl status                                    --node http://localhost:7420
//	meshctl observe "I prefer morning meetings"        --node http://localhost:7420
//	meshctl claim "alice has hobby chess"              --node http://localhost:7420
//	meshctl remember "what are my meeting preferences?" --node http://localhost:7420
//	meshctl schema get                                --node http://localhost:7420
//	meshctl schema update mentors cardinality multi   --node http://localhost:7420
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"memory-mesh/internal/meshclient"
)

var (
	nodeAddr string
	timeout  time.Duration
	source   string
)

func main() {
	root := &cobra.Command{
		Use:   "meshctl",
		Short: "Administrative CLI for a memory-mesh node",
	}

	root.PersistentFlags().StringVarP(&nodeAddr, "node", "n",
		"http://localhost:7420", "Node HTTP address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second,
		"HTTP request timeout")
	root.PersistentFlags().StringVar(&source, "source", "meshctl",
		"Source name attached to observe/claim calls")

	root.AddCommand(statusCmd(), observeCmd(), claimCmd(), rememberCmd(), contradictionsCmd(), schemaCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show this node's health, capabilities, and peer count",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := meshclient.New(nodeAddr, timeout)
			health, err := c.Health(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(health)
			return nil
		},
	}
}

func observeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "observe <text>",
		Short: "Record a raw observation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := meshclient.New(nodeAddr, timeout)
			result, err := c.Call(context.Background(), "observe", map[string]any{"text": args[0], "source": source})
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

func claimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <text>",
		Short: "Assert a (subject, predicate, object) claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := meshclient.New(nodeAddr, timeout)
			result, err := c.Call(context.Background(), "claim", map[string]any{"text": args[0], "source": source})
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

func rememberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remember <query>",
		Short: "Ask a natural-language question over recorded memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := meshclient.New(nodeAddr, timeout)
			result, err := c.Call(context.Background(), "remember", map[string]any{"query": args[0]})
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}
}

func contradictionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contradictions",
		Short: "List unresolved contradictions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := meshclient.New(nodeAddr, timeout)
			result, err := c.Call(context.Background(), "get_unresolved_contradictions", nil)
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect or update the predicate schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current predicate schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := meshclient.New(nodeAddr, timeout)
			result, err := c.Call(context.Background(), "get_schema", nil)
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "update <predicate> <field> <value>",
		Short: "Merge one field of one predicate's schema entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := meshclient.New(nodeAddr, timeout)
			changes := map[string]any{
				"predicates": map[string]any{
					args[0]: map[string]any{args[1]: args[2]},
				},
			}
			result, err := c.Call(context.Background(), "update_schema", map[string]any{"changes": changes, "source": source})
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	})

	return cmd
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
