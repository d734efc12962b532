package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/mentosming/splitmate-migrate/internal/migrate"
)

func printReport(w io.Writer, report *migrate.Report) error {
	if report.DryRun {
		fmt.Fprintln(w, "Dry run: nothing was written to the target.")
	}

	table := tablewriter.NewWriter(w)
	table.Header("Table", "Fetched", "Written", "Batches", "Remapped", "Status")
	for _, t := range report.Tables {
		table.Append(
			t.Table,
			strconv.Itoa(t.Fetched),
			strconv.Itoa(t.Written),
			strconv.Itoa(t.Batches),
			strconv.Itoa(t.Remapped),
			status(t.Err),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	if report.Repair != nil {
		if err := printRepair(w, *report.Repair); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "%d rows in %s\n", report.Rows(), report.Duration.Round(time.Millisecond))
	return nil
}

func printRepair(w io.Writer, res migrate.RepairResult) error {
	fmt.Fprintf(w, "Membership repair: %d teams, %d admins ensured, %d without admin, %d failed\n",
		res.Teams, res.Repaired, res.Skipped, len(res.Errors))
	if len(res.Errors) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header("Team", "Admin", "Error")
	for _, e := range res.Errors {
		table.Append(e.Team, e.Admin, e.Err.Error())
	}
	return table.Render()
}

func printCounts(w io.Writer, counts []migrate.CountResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Table", "Source", "Target", "Match")
	for _, c := range counts {
		table.Append(c.Table, count(c.Source, c.SourceErr), count(c.Target, c.TargetErr), match(c))
	}
	return table.Render()
}

func printInspection(w io.Writer, label string, ins *migrate.Inspection) error {
	fmt.Fprintf(w, "\n== %s\n", label)
	if ins.Profile == nil {
		fmt.Fprintf(w, "no profile matches %q\n", ins.Query)
		return nil
	}
	fmt.Fprintf(w, "profile %v <%v>\n", ins.Profile["id"], ins.Profile["email"])

	fmt.Fprintf(w, "memberships (%d):\n", len(ins.Memberships))
	if len(ins.Memberships) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Team", "Name", "Status")
		for _, m := range ins.Memberships {
			table.Append(m.TeamID, m.TeamName, m.Status)
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "owned teams (%d):\n", len(ins.OwnedTeams))
	if len(ins.OwnedTeams) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Team", "Name")
		for _, t := range ins.OwnedTeams {
			table.Append(fmt.Sprint(t["id"]), fmt.Sprint(t["name"]))
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	return nil
}

func status(err error) string {
	if err == nil {
		return "ok"
	}
	return "FAILED: " + err.Error()
}

func count(n int64, err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return strconv.FormatInt(n, 10)
}

func match(c migrate.CountResult) string {
	if c.Match() {
		return "yes"
	}
	return "NO"
}
