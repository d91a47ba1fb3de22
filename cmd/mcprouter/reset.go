package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/state"
)

var resetConfirm bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetConfirm {
			return fmt.Errorf("refusing to delete %s without --confirm", state.BaseDir())
		}

		st, err := state.Load()
		if err == nil && state.IsRunning(st) {
			return fmt.Errorf("gateway is running (pid %d); stop it before resetting", st.PID)
		}

		return state.RemoveDataDir()
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetConfirm, "confirm", false, "confirm deletion of the data directory")
}
