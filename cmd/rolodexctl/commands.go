package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	dbembed "github.com/memohai/rolodex/db"
	"github.com/memohai/rolodex/internal/auth"
	"github.com/memohai/rolodex/internal/db"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/logger"
	"github.com/memohai/rolodex/internal/schedule"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|steps N|version|force N]",
	Short: "Apply or roll back database migrations",
	Args:  cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		command := db.MigrateUp
		if len(args) > 0 {
			command = args[0]
		}
		return db.RunMigrate(logger.L, cfg.Postgres, dbembed.MigrationsFS, command, args[min(1, len(args)):])
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print the bcrypt hash for auth.operator_password_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print a token for ROLODEX_TOKEN",
	RunE: func(cmd *cobra.Command, args []string) error {
		if opts.token != "" {
			return errors.New("already have a token")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, err := newAPIClient(cfg)
		if err != nil {
			return err
		}
		fmt.Println(c.http.Token)
		return nil
	},
}

// apiCommand builds a command that runs fn against a logged-in client.
func apiCommand(use, short string, args cobra.PositionalArgs, fn func(c *apiClient, cmd *cobra.Command, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			return fn(c, cmd, args)
		},
	}
}

func idArg(args []string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(args[0]))
	if err != nil {
		return "", fmt.Errorf("invalid id %q", args[0])
	}
	return id.String(), nil
}

func syncCommands() *cobra.Command {
	syncCmd := &cobra.Command{Use: "sync", Short: "Run and inspect synchronization"}

	run := apiCommand("run", "Start a sync for some or all accounts", cobra.NoArgs, func(c *apiClient, cmd *cobra.Command, _ []string) error {
		raw, _ := cmd.Flags().GetStringSlice("account")
		dir, _ := cmd.Flags().GetString("direction")
		req := schedule.RunNowRequest{Direction: domain.Direction(dir)}
		for _, v := range raw {
			id, err := uuid.Parse(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid account id %q", v)
			}
			req.AccountIDs = append(req.AccountIDs, id)
		}
		return c.do(http.MethodPost, "/sync/run", req)
	})
	run.Flags().StringSlice("account", nil, "account id (repeatable); all enabled accounts when omitted")
	run.Flags().String("direction", string(domain.DirectionBidirectional), "bidirectional, remote_to_local or local_to_remote")

	status := apiCommand("status", "Show account sync state and pending reviews", cobra.NoArgs, func(c *apiClient, _ *cobra.Command, _ []string) error {
		return c.do(http.MethodGet, "/sync/status", nil)
	})
	jobs := apiCommand("jobs", "List background jobs", cobra.NoArgs, func(c *apiClient, _ *cobra.Command, _ []string) error {
		return c.do(http.MethodGet, "/sync/jobs", nil)
	})
	syncCmd.AddCommand(run, status, jobs)
	return syncCmd
}

func reviewCommands() *cobra.Command {
	reviewsCmd := &cobra.Command{Use: "reviews", Short: "Work the conflict review queue"}

	list := apiCommand("list", "List review items", cobra.NoArgs, func(c *apiClient, cmd *cobra.Command, _ []string) error {
		status, _ := cmd.Flags().GetString("status")
		q := url.Values{}
		q.Set("status", status)
		return c.do(http.MethodGet, "/reviews?"+q.Encode(), nil)
	})
	list.Flags().String("status", string(domain.ReviewPending), "pending, resolved, dismissed or all")

	show := apiCommand("show <id>", "Show a review item", cobra.ExactArgs(1), func(c *apiClient, _ *cobra.Command, args []string) error {
		id, err := idArg(args)
		if err != nil {
			return err
		}
		return c.do(http.MethodGet, "/reviews/"+id, nil)
	})

	resolve := apiCommand("resolve <id>", "Resolve a review item", cobra.ExactArgs(1), func(c *apiClient, cmd *cobra.Command, args []string) error {
		id, err := idArg(args)
		if err != nil {
			return err
		}
		action, _ := cmd.Flags().GetString("action")
		fields, _ := cmd.Flags().GetStringToString("field")
		keep, _ := cmd.Flags().GetString("keep")
		res := domain.Resolution{Action: domain.ResolutionAction(action)}
		if len(fields) > 0 {
			res.Fields = domain.FieldSet{}
			for k, v := range fields {
				res.Fields[k] = v
			}
		}
		if keep != "" {
			keepID, err := uuid.Parse(keep)
			if err != nil {
				return fmt.Errorf("invalid --keep %q", keep)
			}
			res.KeepID = &keepID
		}
		return c.do(http.MethodPost, "/reviews/"+id+"/resolve", res)
	})
	resolve.Flags().String("action", string(domain.ResolveApply), "apply, link, create or merge")
	resolve.Flags().StringToString("field", nil, "chosen value for a conflict field (field=value, repeatable)")
	resolve.Flags().String("keep", "", "surviving person id for merge")

	dismiss := apiCommand("dismiss <id>", "Dismiss a review item", cobra.ExactArgs(1), func(c *apiClient, _ *cobra.Command, args []string) error {
		id, err := idArg(args)
		if err != nil {
			return err
		}
		return c.do(http.MethodPost, "/reviews/"+id+"/dismiss", nil)
	})
	reviewsCmd.AddCommand(list, show, resolve, dismiss)
	return reviewsCmd
}

func archiveCommands() *cobra.Command {
	archivesCmd := &cobra.Command{Use: "archives", Short: "List and restore archived persons"}

	list := apiCommand("list", "List archives", cobra.NoArgs, func(c *apiClient, cmd *cobra.Command, _ []string) error {
		all, _ := cmd.Flags().GetBool("all")
		return c.do(http.MethodGet, fmt.Sprintf("/archives?include_restored=%t", all), nil)
	})
	list.Flags().Bool("all", false, "include restored archives")

	restore := apiCommand("restore <id>", "Restore an archived person", cobra.ExactArgs(1), func(c *apiClient, _ *cobra.Command, args []string) error {
		id, err := idArg(args)
		if err != nil {
			return err
		}
		return c.do(http.MethodPost, "/archives/"+id+"/restore", nil)
	})
	archivesCmd.AddCommand(list, restore)
	return archivesCmd
}

func dedupCommands() *cobra.Command {
	dedupCmd := &cobra.Command{Use: "dedup", Short: "Find and merge duplicate persons"}

	groups := apiCommand("groups", "List duplicate groups", cobra.NoArgs, func(c *apiClient, _ *cobra.Command, _ []string) error {
		return c.do(http.MethodGet, "/dedup/groups", nil)
	})
	run := apiCommand("run", "Run a dedup pass now", cobra.NoArgs, func(c *apiClient, _ *cobra.Command, _ []string) error {
		return c.do(http.MethodPost, "/dedup/run", nil)
	})
	exclude := apiCommand("exclude <person-a> <person-b>", "Mark two persons as different people", cobra.ExactArgs(2), func(c *apiClient, _ *cobra.Command, args []string) error {
		a, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		b, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid id %q", args[1])
		}
		return c.do(http.MethodPost, "/dedup/exclusions", map[string]uuid.UUID{"person_a": a, "person_b": b})
	})
	dedupCmd.AddCommand(groups, run, exclude)
	return dedupCmd
}

func accountCommands() *cobra.Command {
	accountsCmd := &cobra.Command{Use: "accounts", Short: "Manage linked directory accounts"}

	list := apiCommand("list", "List linked accounts", cobra.NoArgs, func(c *apiClient, _ *cobra.Command, _ []string) error {
		return c.do(http.MethodGet, "/accounts", nil)
	})
	authURL := apiCommand("auth-url", "Print the consent URL for linking an account", cobra.NoArgs, func(c *apiClient, _ *cobra.Command, _ []string) error {
		return c.do(http.MethodGet, "/accounts/auth-url", nil)
	})
	connect := apiCommand("connect <identity> <code>", "Link an account with a consent code", cobra.ExactArgs(2), func(c *apiClient, _ *cobra.Command, args []string) error {
		return c.do(http.MethodPost, "/accounts", map[string]string{"identity": args[0], "code": args[1]})
	})
	revoke := apiCommand("revoke <id>", "Revoke an account's authorization", cobra.ExactArgs(1), func(c *apiClient, _ *cobra.Command, args []string) error {
		id, err := idArg(args)
		if err != nil {
			return err
		}
		return c.do(http.MethodPost, "/accounts/"+id+"/revoke", nil)
	})
	accountsCmd.AddCommand(list, authURL, connect, revoke)
	return accountsCmd
}

func init() {
	rootCmd.AddCommand(
		migrateCmd,
		hashPasswordCmd,
		loginCmd,
		syncCommands(),
		reviewCommands(),
		archiveCommands(),
		dedupCommands(),
		accountCommands(),
	)
}
