package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/signex/internal/briefing"
	"github.com/kalambet/signex/internal/config"
	"github.com/kalambet/signex/internal/health"
	"github.com/kalambet/signex/internal/runner"
	"github.com/kalambet/signex/internal/sensor"
	"github.com/kalambet/signex/internal/watch"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run [watch]",
	Short: "Run one watch cycle",
	Long: `Run one watch cycle: select sources, fetch, write the report and alerts.

Examples:
  signex run ai-coding-tools
  signex run --watch ai-coding-tools --lens flash_brief
  signex run ai-coding-tools --since 2026-02-01 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("watch")
		if len(args) == 1 {
			name = args[0]
		}
		if name == "" {
			return fmt.Errorf("a watch name is required")
		}
		lens, _ := cmd.Flags().GetString("lens")
		since, _ := cmd.Flags().GetString("since")
		opts, err := runner.ParseOptions(lens, since)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if !jsonOut {
			printStep("Running watch %s", name)
		}
		res, err := a.runner.Run(cmd.Context(), name, opts)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(res)
		}
		printRunResult(res)
		return nil
	},
}

func init() {
	runCmd.Flags().String("watch", "", "watch name (alternative to the positional argument)")
	runCmd.Flags().String("lens", "", "report lens: deep_insight, flash_brief, dual_take, timeline_trace")
	runCmd.Flags().String("since", "", "only analyze items fetched at or after this time (RFC 3339 or YYYY-MM-DD)")
}

func printRunResult(res runner.Result) {
	printSuccess("Watch %s finished (run %s)", res.Watch, res.RunID)
	ids := make([]string, len(res.SelectedSensors))
	for i, id := range res.SelectedSensors {
		ids[i] = string(id)
	}
	printStatus("Sensors", "%s", strings.Join(ids, ", "))
	printStatus("Lens", "%s", res.Lens)
	printStatus("Inserted", "%d", res.InsertedItems)
	printStatus("Analyzed", "%d", res.AnalyzedItems)
	printStatus("Report", "%s", res.ReportPath)
	if res.AlertPath != "" {
		printStatus("Alerts", "%s", res.AlertPath)
	}
	for _, se := range res.SensorErrors {
		printWarning("%s: %s", se.Sensor, se.Error)
	}
}

// --- hi ---

var hiCmd = &cobra.Command{
	Use:   "hi [message]",
	Short: "Show a short briefing of watches and today's output",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		b, err := briefing.Build(cfg.Workspace.Root, time.Now(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(b)
		}
		fmt.Println(b.Text)
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show analysis run statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.store.RunStats()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(stats)
		}

		printStatus("Runs", "%d", stats.Totals.Runs)
		printStatus("Items analyzed", "%d", stats.Totals.TotalItems)
		names := make([]string, 0, len(stats.ByWatch))
		for name := range stats.ByWatch {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ws := stats.ByWatch[name]
			fmt.Printf("  %s  runs=%d items=%d last=%s lenses=%s\n",
				colorize(colorBold, name), ws.Runs, ws.TotalItems, ws.LastRun, strings.Join(ws.Lenses, ","))
		}
		return nil
	},
}

// --- health ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show per-source health counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := health.Load(a.store)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(rep)
		}
		if len(rep.Sources) == 0 {
			printStatus("Sources", "no calls recorded yet")
			return nil
		}
		for _, s := range rep.Sources {
			line := fmt.Sprintf("%-24s calls=%d failures=%d rate=%.0f%% consecutive=%d",
				s.Source, s.TotalCalls, s.TotalFailures, s.FailureRate*100, s.ConsecutiveFailures)
			if s.Unhealthy {
				printWarning("%s", line)
			} else {
				fmt.Fprintln(os.Stderr, "  "+line)
			}
		}
		return nil
	},
}

// --- watches ---

var watchesCmd = &cobra.Command{
	Use:   "watches",
	Short: "List watches and whether they are due",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		statuses, err := watch.NewWorkspace(cfg.Workspace.Root).Statuses(time.Now())
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(statuses)
		}
		if len(statuses) == 0 {
			printWarning("no watches under %s", cfg.Workspace.Root)
			return nil
		}
		for _, s := range statuses {
			due := ""
			if s.Due {
				due = colorize(colorYellow, " due")
			}
			last := s.LastRun
			if last == "" {
				last = "never"
			}
			fmt.Printf("  %s  %s every %s, last run %s%s\n", colorize(colorBold, s.Watch), s.Status, s.CheckInterval, last, due)
		}
		return nil
	},
}

// --- sensors ---

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "List or toggle data source adapters",
}

var sensorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List adapters and the command each runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, reg, err := loadRegistry()
		if err != nil {
			return err
		}
		type row struct {
			ID      sensor.ID `json:"id"`
			Enabled bool      `json:"enabled"`
			Command []string  `json:"command"`
		}
		rows := make([]row, 0, len(sensor.All()))
		for _, id := range sensor.All() {
			rows = append(rows, row{ID: id, Enabled: reg.Enabled(id), Command: reg.Command(id)})
		}
		if jsonOut {
			return printJSON(rows)
		}
		for _, r := range rows {
			state := colorize(colorGreen, "on ")
			if !r.Enabled {
				state = colorize(colorRed, "off")
			}
			fmt.Printf("  %s %-22s %s\n", state, r.ID, strings.Join(r.Command, " "))
		}
		return nil
	},
}

var sensorsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Allow an adapter to be selected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleSensor(args[0], false)
	},
}

var sensorsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Keep an adapter out of selection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleSensor(args[0], true)
	},
}

func init() {
	sensorsCmd.AddCommand(sensorsListCmd)
	sensorsCmd.AddCommand(sensorsEnableCmd)
	sensorsCmd.AddCommand(sensorsDisableCmd)
}

func loadRegistry() (config.Config, *sensor.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	reg, err := sensor.LoadRegistry(cfg.SensorsPath(), cfg.Workspace.Root, cfg.Runner.Python, cfg.Runner.SensorTimeout)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, reg, nil
}

func toggleSensor(raw string, disabled bool) error {
	id, err := sensor.Parse(raw)
	if err != nil {
		return err
	}
	cfg, reg, err := loadRegistry()
	if err != nil {
		return err
	}
	e, _ := reg.Entry(id)
	e.Disabled = disabled
	reg.Set(id, e)

	f, err := os.Create(cfg.SensorsPath())
	if err != nil {
		return fmt.Errorf("writing %s: %w", cfg.SensorsPath(), err)
	}
	if err := reg.Encode(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.SensorsPath(), err)
	}

	if disabled {
		printSuccess("Disabled %s", id)
	} else {
		printSuccess("Enabled %s", id)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
