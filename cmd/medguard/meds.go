package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dukerupert/medguard/internal/adherence"
	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/model"
)

func (a *app) meds(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return apperr.Validation("usage: medguard meds <list|add|show|toggle|take|delete>")
	}
	switch args[0] {
	case "list", "ls":
		return a.medsList(ctx)
	case "add":
		return a.medsAdd(ctx, args[1:])
	case "show":
		return a.medsShow(ctx, args[1:])
	case "toggle":
		return a.medsToggle(ctx, args[1:])
	case "take":
		return a.medsTake(ctx, args[1:])
	case "delete", "rm":
		return a.medsDelete(ctx, args[1:])
	default:
		return apperr.Validation(fmt.Sprintf("Unknown meds command: %s", args[0]))
	}
}

func joinTimes(ts []model.TimeOfDay) string {
	s := make([]string, len(ts))
	for i, t := range ts {
		s[i] = t.String()
	}
	return strings.Join(s, ",")
}

func printMedications(w io.Writer, meds []model.Medication) {
	if len(meds) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tNAME\tDOSE\tTIMES\tCOURSE\tTAKEN")
	for _, m := range meds {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s to %s\t%d/%d\n",
			m.ID, m.Name, m.Dose, joinTimes(m.Times), m.StartDate, m.EndDate,
			adherence.CompletedCount(m), adherence.ExpectedDoseCount(m))
	}
	tw.Flush()
}

func (a *app) medsList(ctx context.Context) error {
	resp, err := a.orch.Medications(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Your medications:")
	printMedications(a.out, resp.UserMedications)
	for _, g := range resp.GuardianMedications {
		fmt.Fprintf(a.out, "\nGuarding %s <%s>:\n", g.User.Name, g.User.Email)
		printMedications(a.out, g.Medications)
	}
	return nil
}

func (a *app) medsAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("meds add", flag.ContinueOnError)
	fs.SetOutput(a.out)
	name := fs.String("name", "", "medication name")
	dose := fs.String("dose", "", "dose, e.g. 500mg")
	times := fs.String("times", "", "comma-separated times of day, e.g. 09:00,21:00")
	days := fs.Int("days", 1, "course length in days")
	start := fs.String("start", time.Now().Format("2006-01-02"), "first day of the course")
	if err := fs.Parse(args); err != nil {
		return apperr.Validation(err.Error())
	}

	var ts []string
	for _, t := range strings.Split(*times, ",") {
		if t = strings.TrimSpace(t); t != "" {
			ts = append(ts, t)
		}
	}
	m, err := a.orch.CreateMedication(ctx, model.CreateMedicationRequest{
		Name:      *name,
		Dose:      *dose,
		Times:     ts,
		Duration:  *days,
		StartDate: *start,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s (%s), %s to %s at %s\n", m.Name, m.ID, m.StartDate, m.EndDate, joinTimes(m.Times))
	return nil
}

func (a *app) medsShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return apperr.Validation("usage: medguard meds show <id>")
	}
	view, err := a.orch.Medication(ctx, args[0])
	if err != nil {
		return err
	}
	progress, err := a.orch.Progress(ctx, args[0])
	if err != nil {
		return err
	}
	m := view.Medication
	fmt.Fprintf(a.out, "%s %s\nowner: %s (you are the %s)\ntimes: %s\ncourse: %s to %s\ntaken: %d of %d doses\n\n",
		m.Name, m.Dose, view.Owner.Name, view.Role, joinTimes(m.Times), m.StartDate, m.EndDate,
		progress.Completed, progress.Expected)

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, d := range progress.Days {
		mark := " "
		if d.Complete {
			mark = "x"
		}
		fmt.Fprintf(tw, "[%s]\t%s\t%s\n", mark, d.Date, joinTimes(d.Taken))
	}
	return tw.Flush()
}

func (a *app) medsToggle(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return apperr.Validation("usage: medguard meds toggle <id> <YYYY-MM-DD> <HH:MM>")
	}
	date, err := model.ParseDate(args[1])
	if err != nil {
		return apperr.Validation(err.Error())
	}
	t, err := model.ParseTimeOfDay(args[2])
	if err != nil {
		return apperr.Validation(err.Error())
	}
	m, err := a.orch.Toggle(ctx, args[0], date, t)
	if err != nil {
		return err
	}
	a.printDose(m, date, t)
	return nil
}

func (a *app) medsTake(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return apperr.Validation("usage: medguard meds take <id>")
	}
	m, date, t, err := a.orch.Take(ctx, args[0])
	if err != nil {
		return err
	}
	a.printDose(m, date, t)
	return nil
}

func (a *app) printDose(m *model.Medication, date model.Date, t model.TimeOfDay) {
	state := "not taken"
	if m.Adherence.Has(date, t) {
		state = "taken"
	}
	fmt.Fprintf(a.out, "%s %s %s: %s\n", m.Name, date, t, state)
}

func (a *app) medsDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return apperr.Validation("usage: medguard meds delete <id>")
	}
	if err := a.orch.DeleteMedication(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Deleted.")
	return nil
}
