package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vtpt/vtpt-meter/meter"
	"github.com/vtpt/vtpt-meter/remote"
	"github.com/vtpt/vtpt-meter/syncer"
)

var (
	dienFlag     string
	nuocFlag     string
	noteFlag     string
	resolvedFlag bool
	targetID     int64
	targetDate   string
)

var recordCmd = &cobra.Command{
	Use:   "record <room>",
	Short: "Record a meter reading for a room",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecord,
}

var updateCmd = &cobra.Command{
	Use:   "update <room>",
	Short: "Correct an existing reading",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <room>",
	Short: "Delete a reading",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	for _, c := range []*cobra.Command{recordCmd, updateCmd} {
		c.Flags().StringVar(&dienFlag, "dien", "", "electric meter value (kWh)")
		c.Flags().StringVar(&nuocFlag, "nuoc", "", "water meter value (m3)")
		c.Flags().StringVar(&noteFlag, "note", "", "free-text note")
		c.Flags().BoolVar(&resolvedFlag, "resolved", false, "mark the reading resolved")
	}
	for _, c := range []*cobra.Command{updateCmd, deleteCmd} {
		c.Flags().Int64Var(&targetID, "id", 0, "server row id of the reading")
		c.Flags().StringVar(&targetDate, "date", "", "date of the reading, as shown by history")
		_ = c.MarkFlagRequired("id")
		_ = c.MarkFlagRequired("date")
	}
}

// parseMeterValue turns a flag value into a nullable reading field. An empty
// flag means the meter was not read.
func parseMeterValue(raw, name string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q", name, raw)
	}
	return &v, nil
}

func buildMutation(action, room string) (syncer.Mutation, error) {
	dien, err := parseMeterValue(dienFlag, "dien")
	if err != nil {
		return syncer.Mutation{}, err
	}
	nuoc, err := parseMeterValue(nuocFlag, "nuoc")
	if err != nil {
		return syncer.Mutation{}, err
	}

	status := meter.StatusOpen
	if resolvedFlag {
		status = meter.StatusResolved
	}

	return syncer.Mutation{
		Action: action,
		Room:   room,
		Dien:   dien,
		Nuoc:   nuoc,
		Note:   noteFlag,
		Status: status,
	}, nil
}

func runRecord(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pin, err := a.pin(cmd)
	if err != nil {
		return err
	}

	m, err := buildMutation(syncer.ActionSave, args[0])
	if err != nil {
		return err
	}

	reading, err := a.sync.Commit(cmd.Context(), pin, m)
	if err != nil {
		return err
	}

	fmt.Printf("Recorded for %s:%s\n", reading.Room, formatValues(*reading))
	reportPending(cmd, a)
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pin, err := a.pin(cmd)
	if err != nil {
		return err
	}

	m, err := buildMutation(syncer.ActionUpdate, args[0])
	if err != nil {
		return err
	}
	m.Target = &remote.Target{ID: targetID, Date: targetDate}

	reading, err := a.sync.Commit(cmd.Context(), pin, m)
	if err != nil {
		return err
	}

	fmt.Printf("Updated %s:%s\n", reading.Room, formatValues(*reading))
	reportPending(cmd, a)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pin, err := a.pin(cmd)
	if err != nil {
		return err
	}

	_, err = a.sync.Commit(cmd.Context(), pin, syncer.Mutation{
		Action: syncer.ActionDelete,
		Room:   args[0],
		Target: &remote.Target{ID: targetID, Date: targetDate},
	})
	if err != nil {
		return err
	}

	fmt.Printf("Deleted reading %d from %s\n", targetID, args[0])
	reportPending(cmd, a)
	return nil
}

func formatValues(r meter.Reading) string {
	out := ""
	if r.Dien != nil {
		out += fmt.Sprintf(" dien=%g", *r.Dien)
	}
	if r.Nuoc != nil {
		out += fmt.Sprintf(" nuoc=%g", *r.Nuoc)
	}
	if r.Note != "" {
		out += fmt.Sprintf(" note=%q", r.Note)
	}
	if r.Status == meter.StatusResolved {
		out += " [resolved]"
	}
	return out
}

// reportPending tells the user whether the mutation reached the server yet.
func reportPending(cmd *cobra.Command, a *app) {
	n, err := a.sync.Pending(cmd.Context())
	if err != nil || n == 0 {
		return
	}
	fmt.Printf("%d change(s) pending sync; run 'vtptmeter sync' when back online\n", n)
}
