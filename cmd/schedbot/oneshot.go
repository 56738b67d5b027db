package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"schedbot/internal/app"
	"schedbot/internal/bot"
	"schedbot/internal/config"
	"schedbot/internal/monitor"
	"schedbot/internal/source"
	"schedbot/internal/subscribers"
	"schedbot/internal/timetable"
	logx "schedbot/pkg/logx"
)

// env is what the one-shot commands share: config, a stderr logger and the page source.
type env struct {
	cfg *config.Config
	res config.Resolved
	log logx.Logger
	src *source.Client
}

func loadEnv(f *rootFlags) (*env, error) {
	cfg, err := config.NewManager(f.config).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	log := logx.NewWriter(os.Stderr, f.logLevel)
	return &env{cfg: cfg, res: res, log: log, src: source.NewClient(app.SourceConfig(res), log)}, nil
}

// page reads file when set, otherwise fetches the live page.
func (e *env) page(ctx context.Context, file string) (string, error) {
	if file == "" {
		return e.src.Fetch(ctx)
	}
	var (
		b   []byte
		err error
	)
	if file == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(file)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newParseCmd(f *rootFlags) *cobra.Command {
	var file, group string
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Fetch (or read) the timetable page and print the parsed snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(f)
			if err != nil {
				return err
			}
			raw, err := e.page(cmd.Context(), file)
			if err != nil {
				return err
			}
			opts := []timetable.ParseOption{timetable.WithLogger(e.log)}
			if group != "" {
				opts = append(opts, timetable.WithGroup(group))
			}
			snap, err := timetable.Parse(raw, opts...)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read the page from a file ('-' for stdin) instead of fetching")
	cmd.Flags().StringVar(&group, "group", "", "keep only this group")
	return cmd
}

func newTeacherCmd(f *rootFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "teacher <query>",
		Short: "Search teachers on today's page and print their lessons",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(f)
			if err != nil {
				return err
			}
			raw, err := e.page(cmd.Context(), file)
			if err != nil {
				return err
			}
			snap, err := timetable.Parse(raw, timetable.WithLogger(e.log))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			query := strings.Join(args, " ")
			names := timetable.SearchTeachers(query, snap)
			if len(names) == 0 {
				_, _ = fmt.Fprintf(out, "no teacher matches %q\n", query)
				return nil
			}
			for _, name := range names {
				lessons := timetable.FindTeacherSchedule(name, snap)
				_, _ = fmt.Fprintf(out, "%s (%s), %d lessons\n", name, snap.Date, timetable.CountEntries(lessons))
				for _, g := range sortedKeys(lessons) {
					for _, l := range lessons[g] {
						_, _ = fmt.Fprintf(out, "  %s  %s  %s\n", g, l.PairNumber, l.Subject)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read the page from a file instead of fetching")
	return cmd
}

// baselineFetcher serves a saved page on the first call and the live page after.
type baselineFetcher struct {
	once     sync.Once
	baseline string
	live     monitor.Fetcher
}

func (b *baselineFetcher) Fetch(ctx context.Context) (string, error) {
	var first bool
	b.once.Do(func() { first = true })
	if first {
		return b.baseline, nil
	}
	return b.live.Fetch(ctx)
}

func newCheckCmd(f *rootFlags) *cobra.Command {
	var baseline string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one monitor cycle without sending anything",
		Long: "Runs a dry monitor cycle against the configured store. Without --baseline the\n" +
			"cycle starts cold and only reports what is tracked; with it the saved page is\n" +
			"used as the previous state and the changed groups are printed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := loadEnv(f)
			if err != nil {
				return err
			}
			scfg, err := app.StoreConfig(e.cfg, e.res)
			if err != nil {
				return err
			}
			store, err := subscribers.Open(ctx, scfg, e.log)
			if err != nil {
				return err
			}
			defer store.Close()

			var fetch monitor.Fetcher = e.src
			cycles := 1
			if baseline != "" {
				raw, err := e.page(ctx, baseline)
				if err != nil {
					return err
				}
				fetch = &baselineFetcher{baseline: raw, live: e.src}
				cycles = 2
			}
			mon := monitor.New(monitor.Deps{
				Fetcher:   fetch,
				Store:     store,
				Formatter: bot.FormatNotification,
			}, monitor.Config{FetchTimeout: e.res.SourceTimeout, DryRun: true}, e.log)

			var rep monitor.CycleReport
			for i := 0; i < cycles; i++ {
				if rep, err = mon.RunOnce(ctx); err != nil {
					return err
				}
			}
			return printCycle(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVar(&baseline, "baseline", "", "saved page used as the previous state")
	return cmd
}

func printCycle(w io.Writer, rep monitor.CycleReport) error {
	_, _ = fmt.Fprintf(w, "cycle %s: date=%q groups=%d warm=%t took=%s\n", rep.ID, rep.Date, rep.Groups, rep.Warm, rep.Took)
	if !rep.Warm {
		_, _ = fmt.Fprintln(w, "cold start: state recorded, nothing to compare")
		return nil
	}
	if len(rep.Changed) == 0 {
		_, _ = fmt.Fprintln(w, "no changes")
		return nil
	}
	_, _ = fmt.Fprintf(w, "changed: %s\n", strings.Join(rep.Changed, ", "))
	_, _ = fmt.Fprintf(w, "would notify %d subscribers (%d messages)\n", rep.Subscribers, len(rep.Deliveries))
	return nil
}
