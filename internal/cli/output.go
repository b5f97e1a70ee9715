package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/faceauth"
	"github.com/your-org/facegate/internal/models"
)

// errFailed marks a command whose operation ran but did not succeed. The
// message was already printed.
var errFailed = errors.New("operation failed")

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func errUsage(cmd *cobra.Command, msg string) error {
	return fmt.Errorf("%s\n\n%s", msg, cmd.UsageString())
}

// printResult prints the outcome of an operation and turns a failure into
// errFailed so the process exits non-zero.
func printResult(w io.Writer, res faceauth.Result) error {
	if res.Success {
		fmt.Fprintln(w, res.Message)
		return nil
	}
	if res.Code != faceauth.CodeOK {
		fmt.Fprintf(w, "%s (%s)\n", res.Message, res.Code)
	} else {
		fmt.Fprintln(w, res.Message)
	}
	return errFailed
}

func printRecognition(w io.Writer, rec faceauth.Recognition) error {
	if !rec.Success {
		return printResult(w, rec.Result)
	}
	fmt.Fprintln(w, rec.Message)
	fmt.Fprintf(w, "  Member:     %s\n", rec.MemberID)
	if rec.Role != "" {
		fmt.Fprintf(w, "  Role:       %s\n", rec.Role)
	}
	fmt.Fprintf(w, "  Confidence: %.1f%%\n", rec.Confidence)
	return nil
}

func printMembers(w io.Writer, members []models.MemberSummary) {
	if len(members) == 0 {
		fmt.Fprintln(w, "No team members registered.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tFULL NAME\tROLE\tPHOTOS\tREGISTERED")
	fmt.Fprintln(tw, "--------\t---------\t----\t------\t----------")
	for _, m := range members {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			m.Username, m.FullName, m.Role, m.PhotoCount, m.RegisteredAt.Local().Format(time.DateTime))
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d\n", len(members))
}
