// Package main is the command-line entry point for the Audiobookshelf to
// Calibre-style library sync engine. It links local book records to remote
// library items and synchronizes metadata, reading progress and derived
// listening statistics between them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/api/audible"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/api/audiobookshelf"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/api/hardcover"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/config"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/library"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/linker"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/logger"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/mapper"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/models"
	syncengine "github.com/jbhul/audiobookshelf-calibre-sync/internal/sync"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// app bundles everything a command needs once configuration is loaded
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *library.Database
	store    *library.Store
	client   *audiobookshelf.Client
	resolver *linker.Resolver
}

func main() {
	cliApp := &cli.App{
		Name:    "audiobookshelf-calibre-sync",
		Usage:   "Link and sync a local book library with an Audiobookshelf server",
		Version: fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "sync",
				Usage: "Sync linked records from the server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "ids",
						Usage: "Comma-separated record IDs to sync (default: all linked records)",
					},
					&cli.BoolFlag{
						Name:  "daemon",
						Usage: "Keep running and sync daily at the configured time",
					},
				},
				Action: runSync,
			},
			{
				Name:  "quick-link",
				Usage: "Link unlinked records via the configured catalog provider",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "ids",
						Usage: "Comma-separated record IDs to link (default: all unlinked records)",
					},
				},
				Action: runQuickLink,
			},
			{
				Name:  "link",
				Usage: "Link a record to a remote item, chosen explicitly or by similarity",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "id",
						Usage:    "Record ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "item",
						Usage: "Remote item ID; omitted, the best similarity match wins",
					},
				},
				Action: runLink,
			},
			{
				Name:  "unlink",
				Usage: "Clear a record's link and its cached match",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "id",
						Usage:    "Record ID",
						Required: true,
					},
				},
				Action: runUnlink,
			},
			{
				Name:  "candidates",
				Usage: "Show ranked match candidates for a record",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "id",
						Usage:    "Record ID",
						Required: true,
					},
				},
				Action: runCandidates,
			},
			{
				Name:   "unlinked",
				Usage:  "List remote items no local record links to",
				Action: runUnlinked,
			},
			{
				Name:  "cache",
				Usage: "Inspect and manage the match cache",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List cached matches",
						Action: runCacheList,
					},
					{
						Name:      "clear",
						Usage:     "Remove cached matches, all or a single signature",
						ArgsUsage: "[signature]",
						Action:    runCacheClear,
					},
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		logger.Get().Error("Error running application", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

// setup loads configuration, initializes logging and wires the services
func setup(c *cli.Context) (*app, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Setup(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     logger.ParseLogFormat(cfg.Logging.Format),
		Output:     os.Stdout,
		TimeFormat: time.RFC3339,
	})
	log := logger.Get()

	db, err := library.NewDatabase(cfg.Paths.DatabaseFile, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open library database: %w", err)
	}
	store := library.NewStore(db, log)

	client := audiobookshelf.NewClientWithConfig(cfg.Audiobookshelf.URL, cfg.Audiobookshelf.Token, &audiobookshelf.ClientConfig{
		Timeout: cfg.Sync.RequestTimeout,
	})

	var catalog linker.CatalogClient
	switch cfg.QuickLink.Provider {
	case "hardcover":
		catalog = hardcover.NewClient(cfg.QuickLink.HardcoverToken, cfg.QuickLink.MaxResults, log)
	default:
		catalog = audible.NewClient(cfg.QuickLink.AudibleRegion, cfg.QuickLink.MaxResults, log)
	}

	cache := linker.NewMatchCache(store, log)
	resolver := linker.NewResolver(store, cache, catalog, linker.Config{
		TieThreshold:  cfg.Sync.TieThreshold,
		NegativeCache: cfg.QuickLink.NegativeCache,
	}, log)

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		store:    store,
		client:   client,
		resolver: resolver,
	}, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSync(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.db.Close()

	scope, err := parseIDs(c.String("ids"))
	if err != nil {
		return err
	}

	roles, err := syncRoles(a.cfg)
	if err != nil {
		return err
	}
	orchestrator := syncengine.NewOrchestrator(a.store, a.client, syncengine.Config{
		LibraryIDs:       a.cfg.Audiobookshelf.Libraries,
		Workers:          a.cfg.Sync.Workers,
		SkipFinished:     a.cfg.Sync.SkipFinished,
		Writeback:        a.cfg.Sync.Writeback,
		Roles:            roles,
		DecimalPrecision: a.cfg.Sync.DecimalPrecision,
	}, a.log)

	ctx, stop := signalContext()
	defer stop()

	runOnce := func(ctx context.Context) error {
		report, err := orchestrator.RunSync(ctx, scope)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	}

	if c.Bool("daemon") {
		a.log.Info("Running in daemon mode", map[string]interface{}{
			"schedule": fmt.Sprintf("%02d:%02d", a.cfg.Sync.ScheduleHour, a.cfg.Sync.ScheduleMinute),
		})
		syncengine.RunDaily(ctx, a.cfg.Sync.ScheduleHour, a.cfg.Sync.ScheduleMinute, a.log, runOnce)
		return nil
	}
	return runOnce(ctx)
}

func runQuickLink(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.db.Close()

	ctx, stop := signalContext()
	defer stop()

	var records []library.LocalRecord
	if ids := c.String("ids"); ids != "" {
		scope, err := parseIDs(ids)
		if err != nil {
			return err
		}
		for _, id := range scope {
			rec, err := a.store.GetRecord(id)
			if err != nil {
				return err
			}
			records = append(records, *rec)
		}
	} else {
		records, err = a.store.ListUnlinkedRecords()
		if err != nil {
			return err
		}
	}

	items, err := a.client.ListItems(ctx, a.cfg.Audiobookshelf.Libraries)
	if err != nil {
		return err
	}

	linked := 0
	for i := range records {
		rec := &records[i]
		remoteID, err := a.resolver.QuickLink(ctx, rec, items)
		switch {
		case err == nil:
			linked++
			fmt.Printf("linked  %-6d %s -> %s\n", rec.ID, rec.Title, remoteID)
		case linker.IsAmbiguous(err):
			fmt.Printf("ambiguous %-4d %s (multiple matches, use candidates)\n", rec.ID, rec.Title)
		default:
			fmt.Printf("no match %-5d %s\n", rec.ID, rec.Title)
		}
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Printf("%d of %d records linked\n", linked, len(records))
	return nil
}

func runLink(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.db.Close()

	ctx, stop := signalContext()
	defer stop()

	rec, err := a.store.GetRecord(uint(c.Uint("id")))
	if err != nil {
		return err
	}
	items, err := a.client.ListItems(ctx, a.cfg.Audiobookshelf.Libraries)
	if err != nil {
		return err
	}

	if itemID := c.String("item"); itemID != "" {
		if err := a.resolver.Link(rec, items, itemID); err != nil {
			return err
		}
		fmt.Printf("linked %d %s -> %s\n", rec.ID, rec.Title, itemID)
		return nil
	}

	remoteID, err := a.resolver.AutoLink(ctx, rec, items)
	switch {
	case err == nil:
		fmt.Printf("linked %d %s -> %s\n", rec.ID, rec.Title, remoteID)
	case linker.IsAmbiguous(err):
		var ambiguous *linker.AmbiguousMatchError
		errors.As(err, &ambiguous)
		fmt.Println("ambiguous match; pick one with --item:")
		for _, cand := range ambiguous.Candidates {
			meta := cand.Item.Media.Metadata
			fmt.Printf("%.3f  %s  %s by %s\n", cand.Confidence, cand.Item.ID, meta.Title, meta.AuthorName)
		}
	case errors.Is(err, linker.ErrNoMatch):
		fmt.Printf("no match for %s\n", rec.Title)
	default:
		return err
	}
	return nil
}

func runUnlink(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.db.Close()

	rec, err := a.store.GetRecord(uint(c.Uint("id")))
	if err != nil {
		return err
	}
	if err := a.resolver.Unlink(rec); err != nil {
		return err
	}
	fmt.Printf("unlinked %d %s\n", rec.ID, rec.Title)
	return nil
}

func runCandidates(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.db.Close()

	ctx, stop := signalContext()
	defer stop()

	rec, err := a.store.GetRecord(uint(c.Uint("id")))
	if err != nil {
		return err
	}
	items, err := a.client.ListItems(ctx, a.cfg.Audiobookshelf.Libraries)
	if err != nil {
		return err
	}

	candidates := a.resolver.FindCandidates(rec, items)
	if len(candidates) == 0 {
		fmt.Println("no candidates")
		return nil
	}
	for _, cand := range candidates {
		meta := cand.Item.Media.Metadata
		fmt.Printf("%.3f  %s  %s by %s\n", cand.Confidence, cand.Item.ID, meta.Title, meta.AuthorName)
	}
	return nil
}

func runUnlinked(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.db.Close()

	ctx, stop := signalContext()
	defer stop()

	items, err := a.client.ListItems(ctx, a.cfg.Audiobookshelf.Libraries)
	if err != nil {
		return err
	}
	records, err := a.store.ListLinkedRecords()
	if err != nil {
		return err
	}
	linked := make(map[string]bool, len(records))
	for _, rec := range records {
		linked[rec.LinkKey] = true
	}

	var unlinked []models.AudiobookshelfItem
	for _, item := range items {
		if !linked[item.ID] {
			unlinked = append(unlinked, item)
		}
	}
	sort.Slice(unlinked, func(i, j int) bool {
		return unlinked[i].Media.Metadata.Title < unlinked[j].Media.Metadata.Title
	})
	for _, item := range unlinked {
		meta := item.Media.Metadata
		fmt.Printf("%s  %s by %s\n", item.ID, meta.Title, meta.AuthorName)
	}
	fmt.Printf("%d unlinked remote items\n", len(unlinked))
	return nil
}

func runCacheList(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.db.Close()

	entries, err := a.store.ListMatches()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		outcome := entry.RemoteID
		if entry.Negative {
			outcome = "(no match)"
		}
		fmt.Printf("%s -> %s\n", entry.Signature, outcome)
	}
	fmt.Printf("%d cached matches\n", len(entries))
	return nil
}

func runCacheClear(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.db.Close()

	if signature := c.Args().First(); signature != "" {
		if err := a.store.DeleteMatch(signature); err != nil {
			return err
		}
		fmt.Printf("removed cached match %q\n", signature)
		return nil
	}
	if err := a.store.ClearMatches(); err != nil {
		return err
	}
	fmt.Println("match cache cleared")
	return nil
}

// syncRoles resolves the configured field roles, dropping the identifier
// role when identifier sync is disabled
func syncRoles(cfg *config.Config) ([]mapper.FieldRole, error) {
	roles, err := mapper.ParseFieldRoles(cfg.Sync.Fields)
	if err != nil {
		return nil, err
	}
	if cfg.Sync.SyncASIN {
		return roles, nil
	}
	filtered := roles[:0]
	for _, r := range roles {
		if r != mapper.RoleASIN {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// parseIDs parses a comma-separated record ID list
func parseIDs(s string) ([]uint, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid record ID %q", p)
		}
		ids = append(ids, uint(n))
	}
	return ids, nil
}

// printReport writes a human-readable run summary to stdout
func printReport(report *syncengine.Report) {
	for _, res := range report.Results {
		switch res.State {
		case syncengine.StateDone:
			fmt.Printf("done    %-6d %s (%d fields)\n", res.RecordID, res.Title, res.FieldsWritten)
		case syncengine.StateSkipped:
			fmt.Printf("skipped %-6d %s: %s\n", res.RecordID, res.Title, res.Reason)
		case syncengine.StateFailed:
			fmt.Printf("failed  %-6d %s: %s\n", res.RecordID, res.Title, res.Reason)
		}
		for _, w := range res.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}
	done, skipped, failed := report.Counts()
	fmt.Printf("run %s: %d done, %d skipped, %d failed in %s\n",
		report.RunID, done, skipped, failed, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
}
