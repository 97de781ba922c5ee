package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/awaistahir/smart-heat/internal/app"
	"github.com/awaistahir/smart-heat/internal/config"
	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/awaistahir/smart-heat/internal/influx"
	"github.com/awaistahir/smart-heat/internal/logging"
	"github.com/awaistahir/smart-heat/internal/player"
	"github.com/awaistahir/smart-heat/internal/store"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dbPath  string
	cfg     *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "smart-heat",
		Short: "SmartHeat - Schedule heating into the cheapest hours",
		Long: `SmartHeat turns day-ahead electricity prices and a temperature forecast
into a quarter-hour on/off schedule for a heat pump or electric heater.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return nil
			}
			return initConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.smartheat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default is $HOME/.smartheat/smartheat.db)")

	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(optimizeCmd())
	rootCmd.AddCommand(peakCmd())
	rootCmd.AddCommand(cloneCmd())
	rootCmd.AddCommand(schedulesCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(controlCmd())
	rootCmd.AddCommand(initCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
}

// dayWindow returns [00:00, 24:00) of date in local time. date is
// YYYY-MM-DD, "today" or "tomorrow".
func dayWindow(date string) (time.Time, time.Time, error) {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)

	var start time.Time
	switch date {
	case "today":
		start = today
	case "tomorrow", "":
		start = today.AddDate(0, 0, 1)
	default:
		day, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
		}
		start = day
	}
	return start, start.AddDate(0, 0, 1), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fetchCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch spot prices for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := dayWindow(date)
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), cfg, dbPath)
			if err != nil {
				return err
			}
			defer a.Close()

			points, err := a.Planner.Prices(cmd.Context(), start, end)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Fetched %d price points\n", len(points))
			return printJSON(points)
		},
	}

	cmd.Flags().StringVarP(&date, "date", "d", "today", "Date to fetch (YYYY-MM-DD, 'today' or 'tomorrow')")

	return cmd
}

func optimizeCmd() *cobra.Command {
	var date string
	var periods int

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Optimize heating for one day and store the schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := dayWindow(date)
			if err != nil {
				return err
			}
			if periods > 0 {
				cfg.Heating.NumberOfPeriods = periods
			}

			a, err := app.New(cmd.Context(), cfg, dbPath)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.Planner.Run(cmd.Context(), start, end)
			if err != nil {
				return err
			}

			printSummary(run)
			return printJSON(run.Schedule)
		},
	}

	cmd.Flags().StringVarP(&date, "date", "d", "tomorrow", "Date to optimize (YYYY-MM-DD, 'today' or 'tomorrow')")
	cmd.Flags().IntVarP(&periods, "periods", "n", 0, "Number of heating periods (overrides config)")

	return cmd
}

func peakCmd() *cobra.Command {
	var date string
	var hours float64

	cmd := &cobra.Command{
		Use:   "peak",
		Short: "Block the two most expensive periods of one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := dayWindow(date)
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), cfg, dbPath)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.Planner.Peak(cmd.Context(), start, end, hours)
			if err != nil {
				return err
			}

			printSummary(run)
			return printJSON(run.Schedule)
		},
	}

	cmd.Flags().StringVarP(&date, "date", "d", "tomorrow", "Date to optimize (YYYY-MM-DD, 'today' or 'tomorrow')")
	cmd.Flags().Float64Var(&hours, "hours", 20, "Heating hours to keep allowed (0-23)")

	return cmd
}

func cloneCmd() *cobra.Command {
	var id string
	var days int

	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Print a stored schedule shifted by whole days",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewStore(storePath())
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer st.Close()

			var run *store.Run
			if id != "" {
				run, err = st.GetRun(id)
			} else {
				run, err = st.LatestRun(cfg.Heating.Device)
			}
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no schedule found (run 'smart-heat optimize' first)")
			}
			if err != nil {
				return err
			}

			return printJSON(engine.CloneSchedule(run.Schedule, days))
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Run ID (default is the latest run)")
	cmd.Flags().IntVar(&days, "days", 1, "Days to shift by")

	return cmd
}

func schedulesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "List stored optimization runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewStore(storePath())
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer st.Close()

			runs, err := st.ListRuns(cfg.Heating.Device, limit)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No schedules stored")
				return nil
			}

			fmt.Printf("%-36s %-8s %-17s %-17s %8s %10s\n", "ID", "KIND", "START", "END", "ON H", "COST")
			fmt.Println("--------------------------------------------------------------------------------------------------")

			for _, r := range runs {
				fmt.Printf("%-36s %-8s %-17s %-17s %8.2f %10.2f\n",
					r.ID, r.Kind,
					r.Start.Local().Format("2006-01-02 15:04"),
					r.End.Local().Format("2006-01-02 15:04"),
					r.Summary.OnHours, r.Summary.EstimatedCost)
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of runs")

	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a stored optimization run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewStore(storePath())
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer st.Close()

			if err := st.DeleteRun(args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("run not found: %s", args[0])
				}
				return err
			}

			fmt.Printf("✓ Deleted run %s\n", args[0])
			return nil
		},
	}
}

func controlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "control",
		Short: "Show the control that applies now",
		Long: `Reads the current control from InfluxDB when it is enabled, otherwise from
the stored schedules. Without a stored value the control is on.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			var control engine.Control
			source := "schedules"

			if cfg.Influx.Enabled {
				client, err := influx.NewClient(cmd.Context(), influx.Config{
					URL:    cfg.Influx.URL,
					Token:  cfg.Influx.Token,
					Org:    cfg.Influx.Org,
					Bucket: cfg.Influx.Bucket,
				})
				if err != nil {
					return err
				}
				defer client.Close()

				control, err = client.CurrentControl(cmd.Context(), cfg.Influx.ControlMeasurement, now)
				if err != nil {
					return err
				}
				source = "influx"
			} else {
				st, err := store.NewStore(storePath())
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				defer st.Close()

				runs, err := st.ListRuns(cfg.Heating.Device, player.RecentRuns)
				if err != nil {
					return err
				}
				var ok bool
				if control, ok = player.ControlFor(runs, now); !ok {
					control = engine.ControlOn
				}
			}

			fmt.Printf("%s: %s (from %s at %s)\n", cfg.Heating.Device, control, source, now.Format("15:04"))
			return nil
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = filepath.Join(config.DefaultDir(), "config.yaml")
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(starterConfig), 0o600); err != nil {
				return err
			}

			fmt.Printf("Configuration written to %s\n", path)
			fmt.Println("Set prices.entsoe.token (or SMART_HEAT_PRICES_ENTSOE_TOKEN) before optimizing")
			return nil
		},
	}
}

func storePath() string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.Store.Path
}

func printSummary(run *store.Run) {
	fmt.Fprintf(os.Stderr, "Run %s: %.2f h on, %.2f h off, avg on price %.4f, est. cost %.2f, savings %.2f\n",
		run.ID, run.Summary.OnHours, run.Summary.OffHours, run.Summary.AvgOnPrice,
		run.Summary.EstimatedCost, run.Summary.Savings)
}

const starterConfig = `heating:
  device: heatpump
  device_kw: 2.0
  number_of_periods: 3
  heat_curve:
    - temperature: -25
      hours: 24
    - temperature: 13
      hours: 0
  drop_threshold: 3
  short_threshold: 1
  flex_default: 0.5
  gap_threshold: 1
  shift_price_limit: 2

prices:
  source: entsoe
  entsoe:
    zone: 10YFI-1--------U
    tax: 1.255

weather:
  latitude: 60.17
  longitude: 24.94

logging:
  level: info
`
