package commands

import (
	"context"
	"fmt"
	"time"

	"attendease-backend/lib/scrapers/portal"
	"attendease-backend/lib/serviceutil"
	"attendease-backend/services/attendance"

	"github.com/spf13/cobra"
)

var (
	reportBaseUrl        *string
	reportLoginPath      *string
	reportAttendancePath *string
	reportUser           *string
	reportPassword       *string
	reportHeadless       *bool
	reportTimeout        *int
)

func init() {
	reportBaseUrl = reportCmd.Flags().String("base-url", "", "Portal base url, e.g. https://portal.example.edu")
	reportLoginPath = reportCmd.Flags().String("login-path", "", "Path of the login page.")
	reportAttendancePath = reportCmd.Flags().String("attendance-path", "", "Path of the attendance page.")
	reportUser = reportCmd.Flags().String("user", "", "Student id to log in with.")
	reportPassword = reportCmd.Flags().String("password", "", "Portal password.")
	reportHeadless = reportCmd.Flags().Bool("headless", false, "Drive a headless browser instead of plain http.")
	reportTimeout = reportCmd.Flags().Int("timeout", 60, "Overall scrape timeout in seconds.")

	reportCmd.MarkFlagRequired("base-url")
	reportCmd.MarkFlagRequired("user")
	reportCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report --base-url <url> --user <id> --password <password>",
	Short: "Logs into the portal, scrapes attendance and prints the report.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(*reportTimeout)*time.Second)
		defer cancel()

		client, err := portal.NewClient(portal.Config{
			BaseUrl:        *reportBaseUrl,
			LoginPath:      *reportLoginPath,
			AttendancePath: *reportAttendancePath,
			Headless:       *reportHeadless,
		})
		if err != nil {
			serviceutil.Fatal("initialize portal client", err)
		}
		defer client.Close()

		err = client.Login(ctx, *reportUser, *reportPassword)
		if err != nil {
			serviceutil.Fatal("portal login", err)
		}

		html, err := client.FetchAttendanceHTML(ctx)
		if err != nil {
			serviceutil.Fatal("fetch attendance page", err)
		}
		rows, err := portal.ExtractAttendance(html)
		if err != nil {
			serviceutil.Fatal("extract attendance", err)
		}

		student := attendance.Student{ID: *reportUser, Name: client.Student().Name}
		report := attendance.BuildReport(student, rows, time.Now())
		fmt.Print(string(attendance.RenderText(report)))
	},
}
