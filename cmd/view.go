package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/vtpt/vtpt-meter/meter"
)

var (
	houseFlag        string
	historyLimitFlag int
	logLimitFlag     int
)

var latestCmd = &cobra.Command{
	Use:   "latest [room]",
	Short: "Show the latest reading for a room, or for every room of a house",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLatest,
}

var historyCmd = &cobra.Command{
	Use:   "history <room>",
	Short: "Show a room's reading history with per-cycle consumption",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var logCmd = &cobra.Command{
	Use:   "log <room>",
	Short: "Show the activity log for a room",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

func init() {
	latestCmd.Flags().StringVar(&houseFlag, "house", "", "show all rooms of this house")
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 12, "number of readings to show")
	logCmd.Flags().IntVar(&logLimitFlag, "limit", 20, "number of log entries to show")
}

func runLatest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	cycleKey, err := a.sync.CurrentCycle(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Cycle %s\n", cycleKey)

	if houseFlag != "" {
		latest, err := a.sync.HouseLatest(ctx, houseFlag)
		if err != nil {
			return err
		}
		rooms := make([]string, 0, len(latest))
		for room := range latest {
			rooms = append(rooms, room)
		}
		sort.Strings(rooms)
		for _, room := range rooms {
			r := latest[room]
			fmt.Printf("  %-8s %s%s\n", room, r.Date, formatValues(r))
		}
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("pass a room or --house")
	}

	current, err := a.sync.CurrentReading(ctx, args[0])
	if err != nil {
		return err
	}
	if current == nil {
		fmt.Printf("  %s: no reading for this cycle yet\n", args[0])
		return nil
	}
	fmt.Printf("  %s %s%s\n", current.Room, current.Date, formatValues(*current))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	history, err := a.sync.RoomHistory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	meter.SortNewestFirst(history)
	if historyLimitFlag > 0 && len(history) > historyLimitFlag {
		history = history[:historyLimitFlag]
	}

	tariff := a.cfg.MeterTariff()
	for i, r := range history {
		line := fmt.Sprintf("  %-12d %s%s", r.ID, r.Date, formatValues(r))
		// Consumption against the next-older reading.
		if i+1 < len(history) {
			u := meter.UsageBetween(history[i+1], r)
			if u.HasDien {
				line += fmt.Sprintf("  +%s kWh", u.Dien.String())
			}
			if u.HasNuoc {
				line += fmt.Sprintf("  +%s m3", u.Nuoc.String())
			}
			if u.HasDien || u.HasNuoc {
				line += fmt.Sprintf("  = %s", u.Cost(tariff).StringFixed(0))
			}
		}
		fmt.Println(line)
	}
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.client.ActivityLog(cmd.Context(), args[0], logLimitFlag)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("  %s  %-10s %-8s %s\n", e.At, e.Actor, e.Action, e.Detail)
	}
	return nil
}
