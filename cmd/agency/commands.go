package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agencyhub/internal/config"
	"agencyhub/internal/domain"
	"agencyhub/internal/engine"
	"agencyhub/internal/engine/auth"
	"agencyhub/internal/repo"
)

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userListCmd())
	u.AddCommand(userShowCmd())
	u.AddCommand(userUpdateCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actor()
				u, err := e.CreateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Role, "role", domain.RoleAgent, "role: agent, recruit, manager, admin")
	cmd.Flags().StringVar(&opts.Status, "status", domain.StatusOnboarding, "status: onboarding, active, suspended, terminated")
	return cmd
}

func userListCmd() *cobra.Command {
	var f repo.UserFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.ListUsers(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable("ID", "Name", "Role", "Status", "Created")
				for _, u := range users {
					tw.AppendRow([]any{u.ID, u.Name, u.Role, u.Status, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Role, "role", "", "role filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max users")
	return cmd
}

func userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func userUpdateCmd() *cobra.Command {
	var name, email, role, status string
	cmd := &cobra.Command{
		Use:   "update <user-id>",
		Short: "Update user fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UserUpdateOptions{
				ID:      args[0],
				Name:    optionalString(cmd, "name", name),
				Email:   optionalString(cmd, "email", email),
				Role:    optionalString(cmd, "role", role),
				Status:  optionalString(cmd, "status", status),
				ActorID: actor(),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.UpdateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "", "role")
	cmd.Flags().StringVar(&status, "status", "", "status")
	return cmd
}

func cadenceCmd() *cobra.Command {
	c := &cobra.Command{Use: "cadence", Short: "Record and inspect daily cadence events"}
	c.AddCommand(cadenceRecordCmd())
	c.AddCommand(cadenceListCmd())
	c.AddCommand(cadenceDeleteCmd())
	return c
}

type cadenceRow struct {
	UserID    string `json:"user_id"`
	Date      string `json:"date"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
}

func toCadenceRow(ev domain.CadenceEvent) cadenceRow {
	return cadenceRow{UserID: ev.UserID, Date: domain.FormatDay(ev.Date), Kind: string(ev.Kind), CreatedAt: ev.CreatedAt}
}

func cadenceRecordCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "record <user-id> <ACTION_COMPLETED|MILESTONE|MISSED|RESET>",
		Short: "Record the outcome of a day (today unless --date)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CadenceRecordOptions{UserID: args[0], Kind: args[1], ActorID: actor()}
			if date != "" {
				d, err := domain.ParseDay(date)
				if err != nil {
					return err
				}
				opts.Date = d
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.RecordCadenceEvent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(toCadenceRow(ev))
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day the event belongs to (YYYY-MM-DD)")
	return cmd
}

func cadenceListCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List cadence events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sinceDay time.Time
			if since != "" {
				d, err := domain.ParseDay(since)
				if err != nil {
					return err
				}
				sinceDay = d
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListCadenceEvents(ctx, args[0], sinceDay)
				if err != nil {
					return err
				}
				rows := make([]cadenceRow, 0, len(items))
				for _, ev := range items {
					rows = append(rows, toCadenceRow(ev))
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable("Date", "Kind", "Recorded")
				for _, r := range rows {
					tw.AppendRow([]any{r.Date, r.Kind, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only events on or after this day (YYYY-MM-DD)")
	return cmd
}

func cadenceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user-id> <date>",
		Short: "Delete the event recorded on a day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := domain.ParseDay(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteCadenceEvent(ctx, args[0], d, actor())
			})
		},
	}
}

func rhythmCmd() *cobra.Command {
	r := &cobra.Command{Use: "rhythm", Short: "Resolve rhythm state"}
	r.AddCommand(rhythmShowCmd())
	return r
}

func rhythmShowCmd() *cobra.Command {
	var date string
	var explain bool
	cmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Resolve a user's rhythm state (today unless --date)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				today := e.Today()
				if date != "" {
					d, err := domain.ParseDay(date)
					if err != nil {
						return err
					}
					today = d
				}
				ev, err := e.EvaluateRhythmStateAt(ctx, args[0], today)
				if err != nil {
					var ne auth.NotEligibleError
					if errors.As(err, &ne) {
						return fmt.Errorf("%w (eligible roles %v, statuses %v)", err, e.Config.Eligibility.Roles, e.Config.Eligibility.Statuses)
					}
					return err
				}
				if viper.GetBool("json") {
					if explain {
						return printJSON(map[string]any{
							"result":    ev.Result,
							"rule":      ev.Rule,
							"potential": ev.Potential,
							"signals":   ev.Signals,
						})
					}
					return printJSON(ev.Result)
				}
				res := ev.Result
				next := "-"
				if res.NextThreshold != nil {
					next = string(*res.NextThreshold)
				}
				tw := newTable("Field", "Value")
				tw.AppendRow([]any{"rhythm_state", res.RhythmState})
				tw.AppendRow([]any{"today_status", res.TodayStatus})
				tw.AppendRow([]any{"weeks_on_cadence", res.WeeksOnCadence})
				tw.AppendRow([]any{"next_threshold", next})
				tw.AppendRow([]any{"days_remaining_to_next_threshold", res.DaysRemainingToNextThreshold})
				tw.AppendRow([]any{"internal_degradation", res.InternalDegradation})
				tw.AppendRow([]any{"computed_at", res.ComputedAt})
				if explain {
					s := ev.Signals
					tw.AppendSeparator()
					tw.AppendRow([]any{"rule", ev.Rule})
					tw.AppendRow([]any{"potential", ev.Potential})
					tw.AppendRow([]any{"compliant 30/21/7/4/3", fmt.Sprintf("%d/%d/%d/%d/%d", s.Last30.Compliant, s.Last21.Compliant, s.Last7.Compliant, s.Last4.Compliant, s.Last3.Compliant)})
					tw.AppendRow([]any{"missed 30/21/7/4/3", fmt.Sprintf("%d/%d/%d/%d/%d", s.Last30.Missed, s.Last21.Missed, s.Last7.Missed, s.Last4.Missed, s.Last3.Missed)})
					tw.AppendRow([]any{"consecutive compliant", s.ConsecutiveCompliant})
					tw.AppendRow([]any{"consecutive missed", s.ConsecutiveMissed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "resolve as of this day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&explain, "explain", false, "include the classification signals")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyRevokeCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create an API key for a user (the key is shown once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, args[0], name, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":         key.ID,
					"user_id":    key.UserID,
					"name":       key.Name,
					"key":        secret,
					"created_at": key.CreatedAt,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					rows := make([]map[string]string, 0, len(keys))
					for _, k := range keys {
						rows = append(rows, map[string]string{"id": k.ID, "user_id": k.UserID, "name": k.Name, "created_at": k.CreatedAt})
					}
					return printJSON(rows)
				}
				tw := newTable("ID", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow([]any{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <user-id> <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], args[1], actor()); err != nil {
					return err
				}
				fmt.Printf("Revoked API key %s\n", args[1])
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	a.AddCommand(auditTailCmd())
	return a
}

func auditTailCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAuditEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor", "Payload")
				for _, ev := range items {
					tw.AppendRow([]any{ev.ID, ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configInitCmd())
	c.AddCommand(configValidateCmd())
	return c
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default agency.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := resolveConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}
