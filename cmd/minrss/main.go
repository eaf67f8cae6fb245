package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/adilkhash/minrss/adapter/postgres"
	"github.com/adilkhash/minrss/adapter/rss"
	"github.com/adilkhash/minrss/adapter/sqlite"
	"github.com/adilkhash/minrss/app"
	"github.com/adilkhash/minrss/cli/control"
	"github.com/adilkhash/minrss/domain"
	"github.com/adilkhash/minrss/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "--help", "-h", "help":
		printHelp()
		return
	case "add":
		err = cmdAdd(args)
	case "validate":
		err = cmdValidate(args)
	case "refresh":
		err = cmdRefresh(args)
	case "list":
		err = cmdList(args)
	case "items":
		err = cmdItems(args)
	case "mark-read":
		err = cmdMarkRead(args)
	case "delete":
		err = cmdDelete(args)
	case "fetch":
		err = cmdFetch(args)
	case "set-interval":
		err = cmdSetInterval(args)
	case "set-workers":
		err = cmdSetWorkers(args)
	case "status":
		err = cmdStatus(args)
	default:
		fmt.Printf("unknown command: %s\n\n", cmd)
		printHelp()
		os.Exit(1)
	}
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`Usage:
  minrss COMMAND [OPTIONS]

Commands:
   add             validate a feed URL, subscribe to it, and run an initial sync
   validate        check whether a URL points at a usable feed
   refresh         fetch one feed now and ingest its new items
   list            list subscribed feeds with item counts
   items           show a feed's items, newest first
   mark-read       mark a feed's items (or every item) as read
   delete          unsubscribe a feed and remove its items
   fetch           run the polling daemon (worker pool + control endpoint)
   set-interval    change the running daemon's poll interval
   set-workers     change the running daemon's worker count
   status          show the running daemon's interval and worker count
`)
}

// repository joins the persistence port with the lifecycle both adapters
// provide.
type repository interface {
	domain.FeedRepository
	Close() error
}

func openRepo(cfg config.Config) (repository, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return postgres.Open(cfg.Store.Postgres.DSN())
	case "sqlite":
		return sqlite.Open(cfg.Store.SQLitePath)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// withRepo loads config, opens the configured store, ensures the schema,
// and hands everything to fn.
func withRepo(cfgPath string, fn func(ctx context.Context, cfg config.Config, repo repository) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	repo, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()
	ctx := context.Background()
	if err := repo.Ensure(ctx); err != nil {
		return fmt.Errorf("schema ensure failed: %w", err)
	}
	return fn(ctx, cfg, repo)
}

func newParser(cfg config.Config) *rss.Parser {
	return rss.NewParser(rss.NewClient(cfg.Fetch.Timeout(), cfg.Fetch.MaxRedirects, cfg.Fetch.UserAgent))
}

func newLogger(cfg config.Config) *slog.Logger {
	lvl, _ := cfg.Logging.SlogLevel()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func cmdAdd(args []string) error {
	fset := flag.NewFlagSet("add", flag.ContinueOnError)
	var cfgPath, rawURL, title string
	fset.StringVar(&cfgPath, "config", "", "config file path")
	fset.StringVar(&rawURL, "url", "", "feed URL")
	fset.StringVar(&title, "title", "", "display title (filled from the feed when omitted)")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("--url is required")
	}
	return withRepo(cfgPath, func(ctx context.Context, cfg config.Config, repo repository) error {
		parser := newParser(cfg)
		if err := app.NewValidator(parser).Validate(ctx, rawURL); err != nil {
			return fmt.Errorf("invalid feed: %w", err)
		}
		feed := domain.NewFeed(rawURL)
		feed.Title = strings.TrimSpace(title)
		if err := repo.CreateFeed(ctx, feed); err != nil {
			return err
		}
		rep, err := app.NewSyncer(repo, parser, newLogger(cfg)).Sync(ctx, *feed)
		if err != nil {
			fmt.Printf("Feed added: %s (initial sync failed: %v)\n", rawURL, err)
			return nil
		}
		fmt.Printf("Feed added: %s (%d items)\n", rawURL, rep.Created)
		return nil
	})
}

func cmdValidate(args []string) error {
	fset := flag.NewFlagSet("validate", flag.ContinueOnError)
	var cfgPath, rawURL string
	fset.StringVar(&cfgPath, "config", "", "config file path")
	fset.StringVar(&rawURL, "url", "", "feed URL")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("--url is required")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := app.NewValidator(newParser(cfg)).Validate(context.Background(), rawURL); err != nil {
		return fmt.Errorf("invalid feed: %w", err)
	}
	fmt.Println("Feed looks valid")
	return nil
}

func cmdRefresh(args []string) error {
	fset := flag.NewFlagSet("refresh", flag.ContinueOnError)
	var cfgPath, rawURL string
	fset.StringVar(&cfgPath, "config", "", "config file path")
	fset.StringVar(&rawURL, "url", "", "feed URL")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("--url is required")
	}
	return withRepo(cfgPath, func(ctx context.Context, cfg config.Config, repo repository) error {
		feed, err := repo.FeedByURL(ctx, rawURL)
		if err != nil {
			return err
		}
		rep, err := app.NewSyncer(repo, newParser(cfg), newLogger(cfg)).Sync(ctx, feed)
		if err != nil {
			return err
		}
		if rep.Created == 0 {
			fmt.Println("No new items found")
			return nil
		}
		fmt.Printf("Refreshed: %d new items\n", rep.Created)
		return nil
	})
}

func cmdList(args []string) error {
	fset := flag.NewFlagSet("list", flag.ContinueOnError)
	var cfgPath string
	var num int
	fset.StringVar(&cfgPath, "config", "", "config file path")
	fset.IntVar(&num, "num", 0, "limit number of feeds (0 = all)")
	if err := fset.Parse(args); err != nil {
		return err
	}
	return withRepo(cfgPath, func(ctx context.Context, cfg config.Config, repo repository) error {
		feeds, err := repo.ListFeeds(ctx, num)
		if err != nil {
			return err
		}
		if len(feeds) == 0 {
			fmt.Println("No feeds subscribed")
			return nil
		}
		rows := [][]string{{"#", "TITLE", "ITEMS", "LAST FETCHED", "URL"}}
		for i, f := range feeds {
			count, err := repo.CountItems(ctx, f.ID)
			if err != nil {
				return err
			}
			last := "never"
			if f.LastFetched != nil {
				last = f.LastFetched.Format("2006-01-02 15:04")
			}
			rows = append(rows, []string{
				strconv.Itoa(i + 1), f.DisplayTitle(), strconv.Itoa(count), last, f.URL,
			})
		}
		printTable(rows)
		return nil
	})
}

func cmdItems(args []string) error {
	fset := flag.NewFlagSet("items", flag.ContinueOnError)
	var cfgPath, rawURL string
	var num int
	var unread bool
	fset.StringVar(&cfgPath, "config", "", "config file path")
	fset.StringVar(&rawURL, "url", "", "feed URL")
	fset.IntVar(&num, "num", 10, "number of items (0 = all)")
	fset.BoolVar(&unread, "unread", false, "only unread items")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("--url is required")
	}
	return withRepo(cfgPath, func(ctx context.Context, cfg config.Config, repo repository) error {
		feed, err := repo.FeedByURL(ctx, rawURL)
		if err != nil {
			return err
		}
		filter := domain.ItemFilter{FeedID: &feed.ID, Limit: num}
		if unread {
			notRead := false
			filter.Read = &notRead
		}
		items, err := repo.ListItems(ctx, filter)
		if err != nil {
			return err
		}
		fmt.Printf("Feed: %s\n\n", feed.DisplayTitle())
		for i, it := range items {
			marker := " "
			if !it.Read {
				marker = "*"
			}
			fmt.Printf("%d. %s [%s] %s\n     %s\n\n", i+1, marker, it.PublishedAt.Format("2006-01-02"), it.Title, it.GUID)
		}
		return nil
	})
}

func cmdMarkRead(args []string) error {
	fset := flag.NewFlagSet("mark-read", flag.ContinueOnError)
	var cfgPath, rawURL string
	var all bool
	fset.StringVar(&cfgPath, "config", "", "config file path")
	fset.StringVar(&rawURL, "url", "", "feed URL")
	fset.BoolVar(&all, "all", false, "mark every unread item across all feeds")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if rawURL == "" && !all {
		return fmt.Errorf("either --url or --all is required")
	}
	if rawURL != "" && all {
		return fmt.Errorf("--url and --all are mutually exclusive")
	}
	return withRepo(cfgPath, func(ctx context.Context, cfg config.Config, repo repository) error {
		var filter domain.ItemFilter
		if rawURL != "" {
			feed, err := repo.FeedByURL(ctx, rawURL)
			if err != nil {
				return err
			}
			filter.FeedID = &feed.ID
		}
		n, err := repo.MarkAllRead(ctx, filter)
		if err != nil {
			return err
		}
		fmt.Printf("Marked %d items as read\n", n)
		return nil
	})
}

func cmdDelete(args []string) error {
	fset := flag.NewFlagSet("delete", flag.ContinueOnError)
	var cfgPath, rawURL string
	fset.StringVar(&cfgPath, "config", "", "config file path")
	fset.StringVar(&rawURL, "url", "", "feed URL")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("--url is required")
	}
	return withRepo(cfgPath, func(ctx context.Context, cfg config.Config, repo repository) error {
		feed, err := repo.FeedByURL(ctx, rawURL)
		if err != nil {
			return err
		}
		if _, err := repo.DeleteFeed(ctx, feed.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted feed %s and its items\n", feed.DisplayTitle())
		return nil
	})
}

func cmdFetch(args []string) error {
	fset := flag.NewFlagSet("fetch", flag.ContinueOnError)
	var cfgPath, interval string
	var workers int
	fset.StringVar(&cfgPath, "config", "", "config file path")
	fset.StringVar(&interval, "interval", "", "poll interval override (e.g. 3m)")
	fset.IntVar(&workers, "workers", 0, "worker count override")
	if err := fset.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	pollInterval := cfg.Poll.IntervalDuration()
	if interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid interval: %q", interval)
		}
		pollInterval = d
	}
	pollWorkers := cfg.Poll.Workers
	if workers > 0 {
		pollWorkers = workers
	}

	listener, err := control.TryListen(cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("daemon already running on %s: %w", cfg.ControlAddr, err)
	}
	defer listener.Close()

	repo, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.Ensure(context.Background()); err != nil {
		return fmt.Errorf("schema ensure failed: %w", err)
	}

	logger := newLogger(cfg)
	syncer := app.NewSyncer(repo, newParser(cfg), logger)
	agg := app.NewAggregator(repo, syncer, pollInterval, pollWorkers, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		_ = http.Serve(listener, control.NewServer(agg))
	}()

	if err := agg.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Polling daemon started (interval = %s, workers = %d, control = %s)\n",
		pollInterval, pollWorkers, cfg.ControlAddr)

	<-ctx.Done()
	_ = agg.Stop()
	fmt.Println("Graceful shutdown: daemon stopped")
	return nil
}

func cmdSetInterval(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: minrss set-interval DURATION (e.g. 2m)")
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	old, err := control.NewClient(cfg.ControlAddr).SetInterval(d)
	if err != nil {
		return err
	}
	fmt.Printf("Poll interval changed from %s to %s\n", old, d)
	return nil
}

func cmdSetWorkers(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: minrss set-workers COUNT")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid workers count: %q", args[0])
	}
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	old, err := control.NewClient(cfg.ControlAddr).SetWorkers(n)
	if err != nil {
		return err
	}
	fmt.Printf("Worker count changed from %d to %d\n", old, n)
	return nil
}

func cmdStatus(args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	interval, workers, err := control.NewClient(cfg.ControlAddr).Status()
	if err != nil {
		return err
	}
	fmt.Printf("Daemon running: interval = %s, workers = %d\n", interval, workers)
	return nil
}

// printTable pads columns with display-width awareness so CJK feed
// titles line up.
func printTable(rows [][]string) {
	if len(rows) == 0 {
		return
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-runewidth.StringWidth(cell)))
			}
		}
		fmt.Println(b.String())
	}
}
