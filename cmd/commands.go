package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"unifiedavail/internal/engine"
	"unifiedavail/internal/google"
	"unifiedavail/internal/models"
	"unifiedavail/internal/outlook"
	"unifiedavail/internal/server"
	"unifiedavail/internal/session"
)

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a calendar provider to get an API token.",
		Subcommands: []*cli.Command{
			{
				Name:  "google",
				Usage: "Authorise a Google account. Run once per account.",
				Action: func(c *cli.Context) error {
					logger := setupLogger("info")
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					logger.Info("Starting Google authentication flow.")

					oauthCfg, err := google.GetOAuthConfigForAuthFlow(cfg.Google.ClientID, cfg.Google.ClientSecret)
					if err != nil {
						return fmt.Errorf("failed to get google oauth config: %w", err)
					}
					reader := bufio.NewReader(os.Stdin)
					token, err := google.TokenFromWeb(c.Context, oauthCfg, promptCode(reader, oauthCfg))
					if err != nil {
						return fmt.Errorf("unable to retrieve token from web: %w", err)
					}

					fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
					accountName, _ := reader.ReadString('\n')
					accountName = strings.TrimSpace(accountName)
					if accountName == "" {
						return fmt.Errorf("an account name is required")
					}
					tokenFile := google.TokenPath(cfg.Google.TokenDir, accountName)
					if err := google.SaveToken(tokenFile, token); err != nil {
						return fmt.Errorf("failed to save token: %w", err)
					}

					logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
					return nil
				},
			},
			{
				Name:  "outlook",
				Usage: "Authorise a Microsoft account.",
				Action: func(c *cli.Context) error {
					logger := setupLogger("info")
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					if cfg.Outlook.ClientID == "" {
						return fmt.Errorf("OUTLOOK_CLIENT_ID is not set")
					}
					logger.Info("Starting Outlook authentication flow.")

					oauthCfg := outlook.OAuthConfig(cfg.Outlook.Tenant, cfg.Outlook.ClientID, cfg.Outlook.ClientSecret)
					token, err := oauthCfg.Exchange(c.Context, promptCode(bufio.NewReader(os.Stdin), oauthCfg))
					if err != nil {
						return fmt.Errorf("unable to retrieve token from web: %w", err)
					}
					if err := outlook.SaveToken(cfg.Outlook.TokenFile, token); err != nil {
						return fmt.Errorf("failed to save token: %w", err)
					}

					logger.Info("Successfully authenticated and saved token.", "file", cfg.Outlook.TokenFile)
					return nil
				},
			},
		},
	}
}

func promptCode(reader *bufio.Reader, cfg *oauth2.Config) string {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser then type the "+
		"authorization code: \n%v\n", authURL)
	fmt.Print("Enter Authorization Code: ")
	code, _ := reader.ReadString('\n')
	return strings.TrimSpace(code)
}

func weekCommand() *cli.Command {
	return &cli.Command{
		Name:  "week",
		Usage: "Show the merged events of a week with their severity and conflicts.",
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			view := a.session.View()
			fmt.Printf("Week of %s\n\n", view.Window.Start.Format("Mon Jan 2, 2006"))

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tTIME\tTITLE\tCALENDAR\tSEVERITY\tID")
			for _, e := range view.Events {
				title := displayTitle(e.Title)
				if e.Conflict {
					title = "! " + title
				}
				if e.IsBoundary {
					title = "[block] " + title
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Start.In(a.loc).Format("Mon 02"), timeRange(e, a), title, e.Calendar, e.Severity, e.ID)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if n := len(view.Unresolved); n > 0 {
				fmt.Printf("\n%d unresolved conflict(s). Run 'conflicts' for details.\n", n)
			}
			return nil
		},
	}
}

func conflictsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conflicts",
		Usage: "List unresolved conflicts in queue order.",
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			pairs := a.session.Conflicts()
			if len(pairs) == 0 {
				fmt.Println("No conflicts this week.")
				return nil
			}
			for i, p := range pairs {
				fmt.Printf("%d. %s\n", i+1, pairLabel(p, a))
			}
			return nil
		},
	}
}

func adviseCommand() *cli.Command {
	return &cli.Command{
		Name:      "advise",
		Usage:     "Suggest which event of a conflict to keep and when to move the other.",
		ArgsUsage: "<event-id> <event-id>",
		Action: func(c *cli.Context) error {
			id, err := pairArg(c)
			if err != nil {
				return err
			}
			a, err := setup(c)
			if err != nil {
				return err
			}
			advice, err := a.session.Advise(id)
			if err != nil {
				return err
			}
			fmt.Printf("Keep:       %s (%s, %s)\n", displayTitle(advice.Keep.Title), advice.Keep.Severity, timeRange(advice.Keep, a))
			fmt.Printf("Reschedule: %s (%s, %s)\n", displayTitle(advice.Reschedule.Title), advice.Reschedule.Severity, timeRange(advice.Reschedule, a))
			if len(advice.Slots) == 0 {
				fmt.Println("No free slots found in the search horizon.")
				return nil
			}
			fmt.Println("Free slots:")
			for _, s := range advice.Slots {
				fmt.Printf("  %s\n", s.In(a.loc).Format("Mon Jan 2 15:04"))
			}
			return nil
		},
	}
}

func keepCommand() *cli.Command {
	return &cli.Command{
		Name:      "keep",
		Usage:     "Resolve a conflict by deleting one of its events.",
		ArgsUsage: "<event-id> <event-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "discard", Required: true, Usage: "ID of the event to delete."},
		},
		Action: func(c *cli.Context) error {
			id, err := pairArg(c)
			if err != nil {
				return err
			}
			a, err := setup(c)
			if err != nil {
				return err
			}
			return a.session.Keep(c.Context, id, c.String("discard"))
		},
	}
}

func rescheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "reschedule",
		Usage:     "Resolve a conflict by moving one of its events.",
		ArgsUsage: "<event-id> <event-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event", Required: true, Usage: "ID of the event to move."},
			&cli.StringFlag{Name: "start", Usage: "New start, e.g. 2025-03-04T09:15. Defaults to the first suggested slot."},
		},
		Action: func(c *cli.Context) error {
			id, err := pairArg(c)
			if err != nil {
				return err
			}
			a, err := setup(c)
			if err != nil {
				return err
			}
			var start time.Time
			if s := c.String("start"); s != "" {
				if start, err = models.ParseTime(s, a.loc); err != nil {
					return err
				}
			} else {
				slots, err := a.session.Slots(c.String("event"))
				if err != nil {
					return err
				}
				if len(slots) == 0 {
					return fmt.Errorf("no free slot found, pass --start")
				}
				start = slots[0]
			}
			if err := a.session.Reschedule(c.Context, id, c.String("event"), start); err != nil {
				return err
			}
			fmt.Printf("Moved to %s\n", start.In(a.loc).Format("Mon Jan 2 15:04"))
			return nil
		},
	}
}

func ignoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "ignore",
		Usage:     "Dismiss a conflict without changing either event.",
		ArgsUsage: "<event-id> <event-id>",
		Action: func(c *cli.Context) error {
			id, err := pairArg(c)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			set, err := session.LoadIgnored(cfg.StateFile)
			if err != nil {
				return err
			}
			set.Add(id)
			if err := session.SaveIgnored(cfg.StateFile, set); err != nil {
				return fmt.Errorf("failed to save ignore state: %w", err)
			}
			loggerFromEnv().Info("Ignoring conflict.", "a", id.Low, "b", id.High, "file", cfg.StateFile)
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete an event from the calendar it lives in.",
		ArgsUsage: "<event-id | calendar:event-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected one event id")
			}
			a, err := setup(c)
			if err != nil {
				return err
			}
			return a.session.DeleteEvent(c.Context, c.Args().First())
		},
	}
}

func boundaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "boundary",
		Usage: "Create a protected focus block on every connected calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Usage: "Block title."},
			&cli.BoolFlag{Name: "suggest-title", Usage: "Ask the suggestion service for a title."},
			&cli.StringFlag{Name: "start", Required: true, Usage: "Start, e.g. 2025-03-04T13:00."},
			&cli.StringFlag{Name: "end", Required: true, Usage: "End, e.g. 2025-03-04T15:00."},
		},
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}
			start, err := models.ParseTime(c.String("start"), a.loc)
			if err != nil {
				return err
			}
			end, err := models.ParseTime(c.String("end"), a.loc)
			if err != nil {
				return err
			}
			title := c.String("title")
			if title == "" && c.Bool("suggest-title") {
				if title, err = a.session.SuggestBoundaryTitle(c.Context); err != nil {
					return err
				}
			}
			created, err := a.session.CreateBoundary(c.Context, title, start, end)
			if err != nil {
				return err
			}
			for _, e := range created {
				fmt.Printf("Created %q on %s (%s)\n", e.Title, e.Calendar, e.ID)
			}
			return nil
		},
	}
}

func agendaCommand() *cli.Command {
	return &cli.Command{
		Name:      "agenda",
		Usage:     "Draft a short agenda for a meeting.",
		ArgsUsage: "<event-id | calendar:event-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected one event id")
			}
			a, err := setup(c)
			if err != nil {
				return err
			}
			text, err := a.session.Agenda(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON API and refresh calendars on a schedule.",
		Action: func(c *cli.Context) error {
			a, err := setup(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler := cron.New(cron.WithLocation(a.loc))
			if _, err := scheduler.AddFunc(a.cfg.RefreshCron, func() {
				if err := a.session.Refresh(ctx); err != nil {
					a.logger.Error("Scheduled refresh failed", "error", err)
				}
			}); err != nil {
				return fmt.Errorf("invalid refresh schedule %q: %w", a.cfg.RefreshCron, err)
			}
			scheduler.Start()
			defer scheduler.Stop()
			a.logger.Info("Starting refresh scheduler.", "schedule", a.cfg.RefreshCron)

			opts := server.Options{APIKey: a.cfg.APIKey, StateFile: a.cfg.StateFile}
			if a.aggregator != nil {
				opts.Status = a.aggregator
			}
			return server.New(a.logger, a.session, opts).ListenAndServe(ctx, a.cfg.Listen)
		},
	}
}

func pairArg(c *cli.Context) (engine.PairID, error) {
	if c.NArg() != 2 {
		return engine.PairID{}, fmt.Errorf("expected two event ids")
	}
	return engine.NewPairID(c.Args().Get(0), c.Args().Get(1)), nil
}

func displayTitle(title string) string {
	if title == "" {
		return "Untitled Event"
	}
	return title
}

func timeRange(e engine.WindowEvent, a *app) string {
	return e.Start.In(a.loc).Format("15:04") + "-" + e.End.In(a.loc).Format("15:04")
}

func pairLabel(p engine.Pair, a *app) string {
	return fmt.Sprintf("%s [%s %s] overlaps %s [%s %s]  (%s %s)",
		displayTitle(p.A.Title), p.A.Start.In(a.loc).Format("Mon"), timeRange(p.A, a),
		displayTitle(p.B.Title), p.B.Start.In(a.loc).Format("Mon"), timeRange(p.B, a),
		p.A.ID, p.B.ID)
}
