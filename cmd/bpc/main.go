package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"blueprintcourt/internal/clock"
	"blueprintcourt/internal/config"
	"blueprintcourt/internal/db"
	"blueprintcourt/internal/domain"
	"blueprintcourt/internal/engine"
	"blueprintcourt/internal/migrate"
	"blueprintcourt/internal/registry"
	"blueprintcourt/internal/repo"
	"blueprintcourt/internal/server"
	"blueprintcourt/internal/settle"
)

var rootCmd = &cobra.Command{
	Use:   "bpc",
	Short: "Blueprint Court CLI",
	Long: `Blueprint Court arbitrates milestone outcome disputes for goal markets.
Core concepts:
- Workspace: your .blueprintcourt directory holding only the database; rules live in court.yml.
- Project: a funded goal with milestones whose outcomes the creator reports.
- Challenge window: after a result is reported the milestone locks while backers may dispute it.
- Dispute: a staked challenge that sends the milestone to a vote instead of auto-finalizing.
- Tier: small markets get an expert panel (one voter one vote), large markets go to a DAO
  vote weighted by governance token balance.
- Stake: governance tokens locked when opening a dispute; returned if the dispute wins,
  forfeited to the winning voters if the original result stands.
- Settlement: the immutable record of a final outcome, delivered once to payout webhooks.
- Event log: diary of everything the court did, view with 'bpc log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BPC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(investCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(disputeCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, title, creator string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if creator == "" {
					creator = viper.GetString("actor-id")
				}
				p, err := e.CreateProject(ctx, engine.ProjectOptions{
					ID:        id,
					Title:     title,
					CreatorID: creator,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&creator, "creator-id", "", "creator id (defaults to --actor-id)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Creator", "Status", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.CreatorID, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func milestoneCmd() *cobra.Command {
	ms := &cobra.Command{
		Use:   "milestone",
		Short: "Manage milestones",
		Long:  "Milestones are the checkpoints of a project. They start pending, lock for a challenge window once the creator reports a result, and finalize as completed or failed.",
	}
	ms.AddCommand(milestoneCreateCmd())
	ms.AddCommand(milestoneListCmd())
	ms.AddCommand(milestoneShowCmd())
	ms.AddCommand(milestoneReportCmd())
	return ms
}

func milestoneCreateCmd() *cobra.Command {
	var opts engine.MilestoneOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create milestone",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.CreateMilestone(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "milestone id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.TargetDate, "target-date", "", "target date (RFC3339)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func milestoneListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List milestones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMilestones(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Reported", "Disputed", "Deadline"})
				for _, m := range items {
					deadline := ""
					if m.ChallengeDeadline != nil {
						deadline = *m.ChallengeDeadline
					}
					tw.AppendRow(table.Row{m.ID, m.Title, m.Status, m.ResultReported, m.InDispute, deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func milestoneShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				m, err := r.GetMilestone(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func milestoneReportCmd() *cobra.Command {
	var outcome, evidenceURL, evidenceNote string
	cmd := &cobra.Command{
		Use:   "report <id>",
		Short: "Report milestone result",
		Long:  "Claim the milestone's outcome as the project creator. The milestone locks for the challenge window; unchallenged results finalize when the window closes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var achieved bool
			switch outcome {
			case "achieved":
				achieved = true
			case "missed":
				achieved = false
			default:
				return fmt.Errorf("--outcome must be achieved or missed")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.ReportResult(ctx, engine.ReportOptions{
					MilestoneID:  args[0],
					ReporterID:   viper.GetString("actor-id"),
					Outcome:      achieved,
					EvidenceURL:  evidenceURL,
					EvidenceNote: evidenceNote,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "claimed outcome (achieved, missed)")
	cmd.Flags().StringVar(&evidenceURL, "evidence-url", "", "supporting evidence URL")
	cmd.Flags().StringVar(&evidenceNote, "evidence-note", "", "supporting evidence note")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func investCmd() *cobra.Command {
	var milestoneID, investorID string
	var amountCents int64
	cmd := &cobra.Command{
		Use:   "invest",
		Short: "Record a market investment in a milestone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if investorID == "" {
					investorID = viper.GetString("actor-id")
				}
				return e.Invest(ctx, milestoneID, investorID, amountCents, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&milestoneID, "milestone", "", "milestone id")
	cmd.Flags().StringVar(&investorID, "investor-id", "", "investor id (defaults to --actor-id)")
	cmd.Flags().Int64Var(&amountCents, "amount-cents", 0, "invested amount in cents")
	_ = cmd.MarkFlagRequired("milestone")
	_ = cmd.MarkFlagRequired("amount-cents")
	return cmd
}

func accountCmd() *cobra.Command {
	acc := &cobra.Command{
		Use:   "account",
		Short: "Manage governance token accounts",
	}
	acc.AddCommand(accountDepositCmd())
	acc.AddCommand(accountShowCmd())
	return acc
}

func accountDepositCmd() *cobra.Command {
	var holderID string
	var amount int64
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Credit governance tokens to a holder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if holderID == "" {
					holderID = viper.GetString("actor-id")
				}
				if err := e.Deposit(ctx, holderID, amount, viper.GetString("actor-id")); err != nil {
					return err
				}
				acc, err := e.Ledger.Account(ctx, holderID)
				if err != nil {
					return err
				}
				return printJSONOrTable(acc)
			})
		},
	}
	cmd.Flags().StringVar(&holderID, "holder-id", "", "holder id (defaults to --actor-id)")
	cmd.Flags().Int64Var(&amount, "amount", 0, "token amount")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func accountShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <holder-id>",
		Short: "Show a token account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				acc, err := e.Ledger.Account(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(acc)
			})
		},
	}
	return cmd
}

func disputeCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "dispute",
		Short: "Manage disputes",
		Long:  "Disputes challenge a reported milestone outcome. Opening one locks a stake, picks the voting tier from the market size, and starts the voting clock.",
	}
	d.AddCommand(disputeOpenCmd())
	d.AddCommand(disputeListCmd())
	d.AddCommand(disputeShowCmd())
	d.AddCommand(disputeTimerCmd())
	d.AddCommand(disputeVoteCmd())
	return d
}

func disputeOpenCmd() *cobra.Command {
	var milestoneID, reason string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a dispute against a reported result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				d, err := e.OpenDispute(ctx, engine.OpenOptions{
					MilestoneID:  milestoneID,
					ChallengerID: viper.GetString("actor-id"),
					Reason:       reason,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&milestoneID, "milestone", "", "milestone id")
	cmd.Flags().StringVar(&reason, "reason", "", "why the reported result is wrong")
	_ = cmd.MarkFlagRequired("milestone")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func disputeListCmd() *cobra.Command {
	var tierFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active disputes grouped by tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				active, err := e.ListActiveDisputes(ctx, tierFilter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(active)
				}
				printSummaries("Expert panel", active.ExpertTier)
				printSummaries("DAO vote", active.DAOTier)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tierFilter, "tier", "", "tier filter (expert, dao)")
	return cmd
}

func printSummaries(label string, items []engine.DisputeSummary) {
	if len(items) == 0 {
		return
	}
	fmt.Println(label + ":")
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Milestone", "Voted", "Eligible", "Remaining"})
	for _, s := range items {
		tw.AppendRow(table.Row{s.Dispute.ID, s.Dispute.MilestoneID, s.VotedCount, s.TotalVoters, formatRemaining(s.Remaining)})
	}
	tw.Render()
}

func disputeShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show dispute detail with the current tally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				detail, err := e.GetDisputeDetail(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	}
	return cmd
}

func disputeTimerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timer <id>",
		Short: "Show the voting countdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tr, err := e.GetDisputeTimer(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tr)
				}
				fmt.Println(formatRemaining(tr))
				return nil
			})
		},
	}
	return cmd
}

func disputeVoteCmd() *cobra.Command {
	var choice string
	cmd := &cobra.Command{
		Use:   "vote <id>",
		Short: "Cast or replace a ballot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.CastVote(ctx, args[0], viper.GetString("actor-id"), choice); err != nil {
					return err
				}
				fmt.Println("ballot recorded")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&choice, "choice", "", "uphold_original or overturn")
	_ = cmd.MarkFlagRequired("choice")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Finalize expired challenge windows and voting periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.Sweep(ctx)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect court rules",
		Long:  "court.yml is the rulebook: window lengths, stake size, tier thresholds, quorum. Defaults apply where the file is absent.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default court.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "default", "project id for the generated file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate court.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err == nil && cfg == nil {
				err = fmt.Errorf("no court.yml in workspace; run `bpc config init`")
			}
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything the court did: reports, disputes, ballots, resolutions, settlements.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID string
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, projectID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") && !follow {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				var cursor int64
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
					if e.ID > cursor {
						cursor = e.ID
					}
				}
				tw.Render()
				if !follow {
					return nil
				}
				return followEvents(ctx, r, projectID, cursor)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "project id filter")
	cmd.Flags().BoolVar(&follow, "follow", false, "poll for new events until interrupted")
	return cmd
}

// followEvents polls the log by id cursor and prints each new entry.
func followEvents(ctx context.Context, r repo.Repo, projectID string, cursor int64) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		events, err := r.ListEventsAfter(ctx, cursor, 100)
		if err != nil {
			return err
		}
		for _, e := range events {
			cursor = e.ID
			if projectID != "" && e.ProjectID != projectID {
				continue
			}
			fmt.Printf("%s  %s  %s/%s  %s\n", e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID)
		}
	}
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the plaintext once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				plaintext := uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"key":      plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOrDefault(workspace)
			if err != nil {
				return err
			}
			reg := registry.Registry{DB: conn, ExpertPanelSize: cfg.Court.Tier.ExpertPanelSize}
			e := engine.New(conn, cfg, reg, settle.ForConfig(cfg))
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("BPC_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("BPC_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if !noSweep {
				go runSweeper(cmd.Context(), e, cfg.SweepInterval())
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Blueprint Court API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "disable the background deadline sweeper")
	return cmd
}

func runSweeper(ctx context.Context, e *engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "sweep:", err)
			}
		}
	}
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return err
	}
	reg := registry.Registry{DB: conn, ExpertPanelSize: cfg.Court.Tier.ExpertPanelSize}
	e := engine.New(conn, cfg, reg, settle.ForConfig(cfg))
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatRemaining(tr clock.TimeRemaining) string {
	if tr.IsExpired {
		return "expired"
	}
	return fmt.Sprintf("%dh %dm %ds", tr.Hours, tr.Minutes, tr.Seconds)
}
