package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/eringen/topviews"
	"github.com/eringen/topviews/analytics"
)

// runKeys manages analytics API keys directly in the database, for
// provisioning before the admin area is reachable.
func runKeys(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: topviews keys list|create <label>|revoke <id>")
	}
	store, err := analytics.NewStore(topviews.EnvOr("DATABASE_PATH", "data/analytics.db"), zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	switch args[0] {
	case "list":
		keys, err := store.ListAPIKeys(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLABEL\tPREFIX\tCREATED\tSTATUS")
		for _, k := range keys {
			status := "active"
			if k.Revoked {
				status = "revoked"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Label, k.Prefix, k.CreatedAt.Format(time.DateTime), status)
		}
		return tw.Flush()
	case "create":
		plain, key, err := store.CreateAPIKey(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("Created key %s (%s). It is not shown again:\n%s\n", key.ID, key.Label, plain)
		return nil
	case "revoke":
		if len(args) < 2 {
			return errors.New("usage: topviews keys revoke <id>")
		}
		if err := store.RevokeAPIKey(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("Revoked %s\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown keys command: %s", args[0])
	}
}
