package commands

import (
	"fmt"

	"attendease-backend/services/attendance"

	"github.com/spf13/cobra"
)

var demoStudentId *string

func init() {
	demoStudentId = demoCmd.Flags().String("user", "demo", "Student id to stamp on the report.")
	rootCmd.AddCommand(demoCmd)
}

var demoCmd = &cobra.Command{
	Use:   "demo [--user <id>]",
	Short: "Prints the canned demo report without touching a portal.",
	Run: func(cmd *cobra.Command, args []string) {
		report := attendance.DemoReport(*demoStudentId)
		fmt.Print(string(attendance.RenderText(report)))
	},
}
