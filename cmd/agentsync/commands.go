package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agentsync/internal/domain"
	"agentsync/internal/scheduler"
	"agentsync/internal/storage/postgres"
	"agentsync/internal/tagging"
)

var allPlatforms = []domain.Platform{domain.PlatformReddit, domain.PlatformYouTube, domain.PlatformRSS}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Schedule due agents and work the sync task queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, queueRequired)
		if err != nil {
			return err
		}
		defer a.Close()

		sched := scheduler.NewScheduler(a.fleet, allPlatforms, a.cfg.Sync.Interval, a.logger)

		a.logger.Info("starting agentsync",
			"interval", a.cfg.Sync.Interval,
			"stagger_window", a.cfg.Sync.StaggerWindow,
			"soft_limit", a.cfg.Sync.SoftLimit,
			"hard_limit", a.cfg.Sync.HardLimit,
		)

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return sched.Start(ctx) })
		g.Go(func() error { return a.broker.Consume(ctx, a.worker.Handle) })

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		a.logger.Info("agentsync stopped")
		return nil
	},
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync one agent, one platform, or every platform now",
	Long: `Sync one agent, one platform, or every platform now.

Examples:
  agentsync sync --agent 12
  agentsync sync --platform reddit
  agentsync sync`,
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetInt64("agent")
		platform, _ := cmd.Flags().GetString("platform")

		if agentID != 0 && platform != "" {
			return fmt.Errorf("--agent and --platform are mutually exclusive")
		}

		a, err := newApp(cmd, queueEvents)
		if err != nil {
			return err
		}
		defer a.Close()

		if agentID != 0 {
			return syncOne(cmd, a, agentID, domain.SyncOptions{})
		}

		platforms := allPlatforms
		if platform != "" {
			p := domain.Platform(platform)
			if !p.Valid() {
				return fmt.Errorf("unknown platform %q", platform)
			}
			platforms = []domain.Platform{p}
		}

		var failed int
		for _, p := range platforms {
			stats, err := a.fleet.SyncAll(cmd.Context(), p)
			if err != nil {
				return fmt.Errorf("sync %s: %w", p, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s agents=%d failed=%d created=%d updated=%d errors=%d\n",
				p, stats.Agents, stats.Failed, stats.Created, stats.Updated, stats.Errors)
			failed += stats.Failed
		}
		if failed > 0 {
			return fmt.Errorf("%d agent syncs failed", failed)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Int64("agent", 0, "agent id")
	syncCmd.Flags().String("platform", "", "reddit, youtube or rss")
}

// syncOne prints the run's status line and fails on feed-level errors.
func syncOne(cmd *cobra.Command, a *app, agentID int64, opts domain.SyncOptions) error {
	stats, err := a.orchestrator.SyncAgent(cmd.Context(), agentID, opts)
	if stats != nil {
		fmt.Fprintln(cmd.OutOrStdout(), stats.StatusLine())
	}
	return err
}

// --- backfill / reprocess ---

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Sync an agent ignoring its last sync time",
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetInt64("agent")
		if agentID == 0 {
			return fmt.Errorf("--agent is required")
		}

		a, err := newApp(cmd, queueEvents)
		if err != nil {
			return err
		}
		defer a.Close()

		return syncOne(cmd, a, agentID, domain.SyncOptions{Backfill: true})
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Refresh metrics and re-run tagging for an agent's stored items",
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetInt64("agent")
		if agentID == 0 {
			return fmt.Errorf("--agent is required")
		}

		a, err := newApp(cmd, queueNone)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.orchestrator.Reprocess(cmd.Context(), agentID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tagged=%d skipped=%d errors=%d\n", stats.Updated, stats.Skipped, stats.Errors)
		return nil
	},
}

func init() {
	backfillCmd.Flags().Int64("agent", 0, "agent id")
	reprocessCmd.Flags().Int64("agent", 0, "agent id")
}

// --- agent ---

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage source agents",
}

var agentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a source agent",
	Long: `Create a source agent and its owner account.

Examples:
  agentsync agent create --platform reddit --source golang --min-score 50
  agentsync agent create --platform youtube --source UC_x5XG1OV2P6uZZ5FSM9Ttw --video-hero
  agentsync agent create --platform rss --source https://go.dev/blog/feed.atom --owner go-blog`,
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, _ := cmd.Flags().GetString("platform")
		source, _ := cmd.Flags().GetString("source")
		owner, _ := cmd.Flags().GetString("owner")
		minScore, _ := cmd.Flags().GetInt("min-score")
		minComments, _ := cmd.Flags().GetInt("min-comments")
		flavor, _ := cmd.Flags().GetString("feed-flavor")
		interval, _ := cmd.Flags().GetDuration("interval")
		tools, _ := cmd.Flags().GetString("tools")
		categories, _ := cmd.Flags().GetString("categories")
		strict, _ := cmd.Flags().GetBool("strict")
		videoHero, _ := cmd.Flags().GetBool("video-hero")

		p := domain.Platform(platform)
		if !p.Valid() {
			return fmt.Errorf("unknown platform %q", platform)
		}
		if source == "" {
			return fmt.Errorf("--source is required")
		}

		toolIDs, err := parseIDs(tools)
		if err != nil {
			return fmt.Errorf("--tools: %w", err)
		}
		categoryIDs, err := parseIDs(categories)
		if err != nil {
			return fmt.Errorf("--categories: %w", err)
		}

		agentConfig := domain.AgentConfig{
			MinScore:           minScore,
			MinComments:        minComments,
			FeedFlavor:         flavor,
			SyncInterval:       domain.Duration(interval),
			DefaultToolIDs:     toolIDs,
			DefaultCategoryIDs: categoryIDs,
			StrictModeration:   strict,
			VideoHero:          videoHero,
		}
		if err := agentConfig.Validate(); err != nil {
			return err
		}

		if owner == "" {
			owner = string(p) + "-" + tagging.Slugify(source)
		}

		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		agents := postgres.NewAgentStore(db)
		agent := &domain.SourceAgent{Platform: p, SourceIdentifier: source, Config: agentConfig}

		err = postgres.NewTransactionManager(db).WithTransaction(cmd.Context(), func(ctx context.Context) error {
			ownerID, err := agents.EnsureAccount(ctx, owner)
			if err != nil {
				return err
			}
			agent.OwnerAccountID = ownerID
			return agents.Create(ctx, agent)
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "created agent %d (%s %s, owner %s)\n", agent.ID, p, source, owner)
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List source agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, _ := cmd.Flags().GetString("platform")

		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		agents, err := postgres.NewAgentStore(db).List(cmd.Context(), domain.Platform(platform))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPLATFORM\tSOURCE\tSTATUS\tLAST SYNC\tRESULT")
		for _, agent := range agents {
			lastSync := "never"
			if agent.LastSyncedAt != nil {
				lastSync = agent.LastSyncedAt.Format(time.RFC3339)
			}
			result := agent.LastSyncStatus
			if agent.LastSyncError != "" {
				result += " (" + agent.LastSyncError + ")"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				agent.ID, agent.Platform, agent.SourceIdentifier, agent.Status, lastSync, result)
		}
		return w.Flush()
	},
}

func agentStatusCmd(use, short string, status domain.AgentStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid agent id %q", args[0])
			}

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.NewAgentStore(db).SetStatus(cmd.Context(), id, status); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent %d %s\n", id, status)
			return nil
		},
	}
}

func init() {
	agentCreateCmd.Flags().String("platform", "", "reddit, youtube or rss")
	agentCreateCmd.Flags().String("source", "", "subreddit, channel id or feed url")
	agentCreateCmd.Flags().String("owner", "", "owner account username (default <platform>-<source slug>)")
	agentCreateCmd.Flags().Int("min-score", 0, "minimum score for new items")
	agentCreateCmd.Flags().Int("min-comments", 0, "minimum comment count for new items")
	agentCreateCmd.Flags().String("feed-flavor", "", "reddit listing: hot, new, top or rising")
	agentCreateCmd.Flags().Duration("interval", 0, "sync interval override")
	agentCreateCmd.Flags().String("tools", "", "comma-separated default tool ids")
	agentCreateCmd.Flags().String("categories", "", "comma-separated default category ids")
	agentCreateCmd.Flags().Bool("strict", false, "reject on any keyword match")
	agentCreateCmd.Flags().Bool("video-hero", false, "show video as the project hero")

	agentListCmd.Flags().String("platform", "", "filter by platform")

	agentCmd.AddCommand(agentCreateCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentStatusCmd("pause", "Stop syncing an agent", domain.AgentPaused))
	agentCmd.AddCommand(agentStatusCmd("resume", "Resume syncing an agent", domain.AgentActive))
}

// --- taxonomy ---

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Manage tools and categories",
}

var taxonomyAddCmd = &cobra.Command{
	Use:   "add <tool|category> <name>...",
	Short: "Add or rename tools or categories by slug",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, names := args[0], args[1:]
		if kind != "tool" && kind != "category" {
			return fmt.Errorf("unknown taxonomy kind %q", kind)
		}

		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		store := postgres.NewTaxonomyStore(db)
		if kind == "tool" {
			tools := make([]domain.Tool, len(names))
			for i, name := range names {
				tools[i] = domain.Tool{Name: name, Slug: tagging.Slugify(name)}
			}
			err = store.UpsertTools(cmd.Context(), tools)
		} else {
			categories := make([]domain.Category, len(names))
			for i, name := range names {
				categories[i] = domain.Category{Name: name, Slug: tagging.Slugify(name)}
			}
			err = store.UpsertCategories(cmd.Context(), categories)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "upserted %d %s entries\n", len(names), kind)
		return nil
	},
}

func init() {
	taxonomyCmd.AddCommand(taxonomyAddCmd)
}

// --- item ---

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage content items",
}

var itemTagCmd = &cobra.Command{
	Use:   "tag <external id>",
	Short: "Set tags by hand; the auto-tagger leaves the item alone afterwards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tools, _ := cmd.Flags().GetString("tools")
		categories, _ := cmd.Flags().GetString("categories")
		topics, _ := cmd.Flags().GetString("topics")

		toolIDs, err := parseIDs(tools)
		if err != nil {
			return fmt.Errorf("--tools: %w", err)
		}
		categoryIDs, err := parseIDs(categories)
		if err != nil {
			return fmt.Errorf("--categories: %w", err)
		}

		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		store := postgres.NewContentStore(db)
		item, err := store.GetByExternalID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("no content item with external id %q", args[0])
		}

		tags := domain.Tags{ToolIDs: toolIDs, CategoryIDs: categoryIDs, Topics: tagging.ParseTopics(topics)}
		if err := store.MarkEdited(cmd.Context(), item.ID, tags); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "item %d tagged by hand\n", item.ID)
		return nil
	},
}

func init() {
	itemTagCmd.Flags().String("tools", "", "comma-separated tool ids")
	itemTagCmd.Flags().String("categories", "", "comma-separated category ids")
	itemTagCmd.Flags().String("topics", "", "comma-separated topics")

	itemCmd.AddCommand(itemTagCmd)
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		version, dirty, err := postgres.Migrate(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
		return nil
	},
}

func parseIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
