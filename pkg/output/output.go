// Package output renders build sessions for the terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/poltergeist/buildvision/pkg/types"
)

// UI writes colored messages and tables
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI on stdout and stderr
func New() *UI {
	return &UI{Out: os.Stdout, ErrOut: os.Stderr}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	faint         = color.New(color.Faint).SprintFunc()
)

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

// StateColor colors a project state by severity
func StateColor(state types.ProjectState) string {
	s := string(state)
	switch state {
	case types.ProjectStateBuildDone, types.ProjectStateCleanDone:
		return green(s)
	case types.ProjectStateUpToDate:
		return cyan(s)
	case types.ProjectStateBuildError, types.ProjectStateCleanError:
		return red(s)
	case types.ProjectStateBuildCancelled:
		return yellow(s)
	case types.ProjectStatePending:
		return faint(s)
	default:
		return s
	}
}

// OutcomeColor colors a session outcome
func OutcomeColor(outcome string) string {
	switch outcome {
	case types.OutcomeSucceeded:
		return green(outcome)
	case types.OutcomeFailed:
		return red(outcome)
	case types.OutcomeCancelled:
		return yellow(outcome)
	default:
		return outcome
	}
}

// FormatDuration renders a duration the way build output does
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

// Table creates a borderless, left-aligned table
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// Results prints one row per project result followed by the session summary
func (u *UI) Results(snap types.SessionSnapshot) error {
	table := u.Table([]string{"Project", "Configuration", "State", "Errors", "Warnings", "Duration"})
	for _, r := range snap.Results {
		box := r.Diagnostics()
		config := r.Project.Configuration
		if r.Project.Platform != "" {
			config += "|" + r.Project.Platform
		}
		if err := table.Append([]string{
			r.Project.UniqueName,
			config,
			StateColor(r.State()),
			fmt.Sprintf("%d", box.ErrorCount()),
			fmt.Sprintf("%d", box.WarningCount()),
			FormatDuration(r.Duration()),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	switch snap.Outcome() {
	case types.OutcomeSucceeded:
		u.Success("%s", snap.Summary())
	case types.OutcomeCancelled:
		u.Warning("%s", snap.Summary())
	default:
		u.Error("%s", snap.Summary())
	}
	return nil
}

// Diagnostics prints every diagnostic of the session in project order
func (u *UI) Diagnostics(snap types.SessionSnapshot) {
	for _, r := range snap.Results {
		for _, d := range r.Diagnostics().Items() {
			location := d.File
			if location == "" {
				location = d.ProjectFile
			}
			if d.Line > 0 {
				location = fmt.Sprintf("%s(%d,%d)", location, d.Line, d.Column)
			}
			text := d.Message
			if d.Code != "" {
				text = d.Code + ": " + text
			}
			line := fmt.Sprintf("%s %s [%s]", location, text, d.ProjectName)

			switch d.Level {
			case types.LevelError:
				fmt.Fprintln(u.Out, red(line))
			case types.LevelWarning:
				fmt.Fprintln(u.Out, yellow(line))
			default:
				if u.Verbose {
					fmt.Fprintln(u.Out, faint(line))
				}
			}
		}
	}
}
