package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Flush pending changes to the server",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	result := a.sync.Flush(ctx)
	fmt.Printf("sent=%d failed=%d skipped=%d evicted=%d\n",
		result.Sent, result.Failed, result.Skipped, result.Evicted)

	n, err := a.sync.Pending(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("All changes synced.")
	} else {
		fmt.Printf("%d change(s) still pending.\n", n)
	}
	return nil
}
