package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadline/internal/engine"
	"leadline/internal/repo"
)

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Manage actors"}
	actor.AddCommand(actorCreateCmd())
	actor.AddCommand(actorListCmd())
	actor.AddCommand(actorActiveCmd("deactivate", false))
	actor.AddCommand(actorActiveCmd("activate", true))
	return actor
}

func actorCreateCmd() *cobra.Command {
	var name, email, role string
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateActor(ctx, engine.ActorCreateOptions{
					ID:      args[0],
					Name:    name,
					Email:   email,
					Role:    role,
					ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&role, "role", "user", "admin, user, pre_sales or sales")
	return cmd
}

func actorListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				actors, err := r.ListActors(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actors)
				}
				tw := newTable("ID", "Name", "Role", "Active")
				for _, a := range actors {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Role, a.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active actors")
	return cmd
}

func actorActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: "Mark an actor " + map[bool]string{true: "active", false: "inactive"}[active],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SetActorActive(ctx, actorID(), args[0], active)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, plain, err := e.CreateAPIKey(ctx, actorID(), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": k.ID, "actor_id": k.ActorID, "name": k.Name, "key": plain})
				}
				fmt.Printf("API key %s for %s (shown once):\n%s\n", k.ID, k.ActorID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	key.AddCommand(create)
	key.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys of the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	key.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key of the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, actorID(), args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return key
}

func stateCmd() *cobra.Command {
	state := &cobra.Command{Use: "state", Short: "Manage lead states"}
	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List lead states with their tracking flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				states, err := r.ListStates(ctx, !all)
				if err != nil {
					return err
				}
				policy, err := r.GetPolicy(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(states)
				}
				tw := newTable("Name", "Label", "Terminal", "Tracked", "System", "Active")
				for _, s := range states {
					tw.AppendRow(table.Row{s.Name, s.Label, s.Terminal, policy.IsTracked(s.Name), s.System, s.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include inactive states")
	state.AddCommand(list)

	var opts engine.StateCreateOptions
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a custom lead state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Name = args[0]
				opts.ActorID = actorID()
				s, err := e.CreateState(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	add.Flags().StringVar(&opts.Label, "label", "", "display label")
	add.Flags().StringVar(&opts.Color, "color", "", "display color")
	add.Flags().BoolVar(&opts.Terminal, "terminal", false, "leads in this state are finished")
	add.Flags().BoolVar(&opts.Tracked, "tracked", false, "include in staleness tracking")
	add.Flags().IntVar(&opts.SortOrder, "sort", 0, "sort order")
	state.AddCommand(add)
	return state
}

func policyCmd() *cobra.Command {
	policy := &cobra.Command{Use: "policy", Short: "Staleness policy"}
	policy.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show which states are tracked",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.ListPolicy(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("State", "Tracked", "Updated")
				for _, p := range entries {
					tw.AppendRow(table.Row{p.State, p.Tracked, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	var untrack bool
	set := &cobra.Command{
		Use:   "set <state>",
		Short: "Track a state (or untrack with --off)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetStateTracking(ctx, actorID(), args[0], !untrack)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	set.Flags().BoolVar(&untrack, "off", false, "stop tracking the state")
	policy.AddCommand(set)
	return policy
}

func leadCmd() *cobra.Command {
	lead := &cobra.Command{Use: "lead", Short: "Manage leads"}

	var create engine.LeadCreateOptions
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				create.ActorID = actorID()
				l, err := e.CreateLead(ctx, create)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	createCmd.Flags().StringVar(&create.ID, "id", "", "lead id (default: generated)")
	createCmd.Flags().StringVar(&create.Name, "name", "", "contact name")
	createCmd.Flags().StringVar(&create.Phone, "phone", "", "phone number")
	createCmd.Flags().StringVar(&create.Email, "email", "", "email")
	createCmd.Flags().StringVar(&create.Source, "source", "", "where the lead came from")
	createCmd.Flags().StringVar(&create.Notes, "notes", "", "free-form notes")
	createCmd.Flags().StringVar(&create.State, "state", "", "initial state (default: open)")
	createCmd.Flags().StringVar(&create.AssigneeID, "assignee", "", "assigned actor")
	_ = createCmd.MarkFlagRequired("name")
	lead.AddCommand(createCmd)

	var states []string
	var assignee string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List leads visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				leads, err := e.ListLeads(ctx, actorID(), repo.LeadFilters{States: states, AssigneeID: assignee, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(leads)
				}
				tw := newTable("ID", "Name", "Phone", "State", "Assignee", "Follow-ups", "Last activity")
				for _, l := range leads {
					tw.AppendRow(leadRow(l))
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringSliceVar(&states, "state", nil, "filter by state (repeatable)")
	list.Flags().StringVar(&assignee, "assignee", "", "filter by assignee")
	list.Flags().IntVar(&limit, "limit", 50, "max leads")
	lead.AddCommand(list)

	lead.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.GetLead(ctx, actorID(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	})

	var name, phone, email, source, notes, state, assign string
	var unassign bool
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.LeadUpdateOptions{ID: args[0], ActorID: actorID(), ClearAssignee: unassign}
			flags := cmd.Flags()
			for flag, dst := range map[string]**string{
				"name":     &opts.Name,
				"phone":    &opts.Phone,
				"email":    &opts.Email,
				"source":   &opts.Source,
				"notes":    &opts.Notes,
				"state":    &opts.State,
				"assignee": &opts.AssigneeID,
			} {
				if flags.Changed(flag) {
					v, _ := flags.GetString(flag)
					*dst = &v
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.UpdateLead(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "contact name")
	update.Flags().StringVar(&phone, "phone", "", "phone number")
	update.Flags().StringVar(&email, "email", "", "email")
	update.Flags().StringVar(&source, "source", "", "source")
	update.Flags().StringVar(&notes, "notes", "", "notes")
	update.Flags().StringVar(&state, "state", "", "new state")
	update.Flags().StringVar(&assign, "assignee", "", "new assignee")
	update.Flags().BoolVar(&unassign, "unassign", false, "clear the assignee")
	lead.AddCommand(update)

	lead.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a lead and its follow-ups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteLead(ctx, actorID(), args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	})
	return lead
}

func followUpCmd() *cobra.Command {
	fu := &cobra.Command{Use: "followup", Short: "Follow-up ledger"}

	var opts engine.FollowUpOptions
	add := &cobra.Command{
		Use:   "add <lead-id>",
		Short: "Append a follow-up to a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.LeadID = args[0]
				opts.ActorID = actorID()
				entry, err := e.AddFollowUp(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	add.Flags().StringVarP(&opts.Comment, "comment", "m", "", "what happened")
	add.Flags().StringVar(&opts.ScheduledDate, "date", "", "next contact date (YYYY-MM-DD)")
	add.Flags().StringVar(&opts.ScheduledTime, "time", "", "next contact time (HH:MM)")
	_ = add.MarkFlagRequired("comment")
	fu.AddCommand(add)

	fu.AddCommand(&cobra.Command{
		Use:   "list <lead-id>",
		Short: "List follow-ups of a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.ListFollowUps(ctx, actorID(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("ID", "Comment", "Date", "Time", "By", "Created")
				for _, f := range entries {
					tw.AppendRow(table.Row{f.ID, f.Comment, stringOrEmpty(f.ScheduledDate), stringOrEmpty(f.ScheduledTime), f.CreatedBy, formatTime(f.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return fu
}
