package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Show or manage the billing cycle",
}

var cycleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active billing cycle",
	Args:  cobra.NoArgs,
	RunE:  runCycleShow,
}

var cycleSetCmd = &cobra.Command{
	Use:   "set <YYYY-MM>",
	Short: "Set the active billing cycle (admin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runCycleSet,
}

var cycleApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Close the cycle and open the next month (admin)",
	Args:  cobra.NoArgs,
	RunE:  runCycleApprove,
}

func init() {
	cycleCmd.AddCommand(cycleShowCmd)
	cycleCmd.AddCommand(cycleSetCmd)
	cycleCmd.AddCommand(cycleApproveCmd)
}

func runCycleShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	key, err := a.sync.CurrentCycle(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println(key)

	keys, err := a.client.Cycles(cmd.Context())
	if err != nil {
		// The list is informational; the current key already printed.
		return nil
	}
	if len(keys) > 1 {
		fmt.Printf("known cycles: %v\n", keys)
	}
	return nil
}

func runCycleSet(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	_, pin, err := a.identity(cmd)
	if err != nil {
		return err
	}
	if err := a.sync.SetCycle(cmd.Context(), pin, args[0]); err != nil {
		return err
	}
	fmt.Printf("Cycle set to %s\n", args[0])
	return nil
}

func runCycleApprove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	_, pin, err := a.identity(cmd)
	if err != nil {
		return err
	}
	next, err := a.sync.ApproveCycle(cmd.Context(), pin)
	if err != nil {
		return err
	}
	fmt.Printf("Cycle approved; now on %s\n", next)
	return nil
}
