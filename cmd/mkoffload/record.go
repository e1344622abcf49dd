package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"mkoffload/internal/diag"
	"mkoffload/internal/record"
)

var (
	recordFormat string
	recordColor  string
	recordWidth  int
)

func init() {
	recordCmd.Flags().StringVar(&recordFormat, "format", "pretty", "output format (pretty|json)")
	recordCmd.Flags().StringVar(&recordColor, "color", "auto", "colorize output (auto|on|off)")
	recordCmd.Flags().IntVar(&recordWidth, "width", 100, "maximum line width for pretty output")
}

var recordCmd = &cobra.Command{
	Use:   "record FILE",
	Short: "Show an invocation record written under -save-temps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := record.Read(args[0])
		if err != nil {
			return err
		}
		switch strings.ToLower(recordFormat) {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		case "pretty":
			mode, err := diag.ParseColorMode(recordColor)
			if err != nil {
				return err
			}
			useColor := mode == diag.ColorOn
			if mode == diag.ColorAuto {
				if f, ok := cmd.OutOrStdout().(*os.File); ok {
					useColor = diag.IsTerminal(f)
				}
			}
			renderRecord(cmd.OutOrStdout(), rec, recordStyles(useColor), recordWidth)
			return nil
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", recordFormat)
		}
	},
}

type recordStyle struct {
	title lipgloss.Style
	key   lipgloss.Style
	ok    lipgloss.Style
	bad   lipgloss.Style
	dim   lipgloss.Style
}

func recordStyles(color bool) recordStyle {
	if !color {
		plain := lipgloss.NewStyle()
		return recordStyle{title: plain, key: plain, ok: plain, bad: plain, dim: plain}
	}
	return recordStyle{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7")),
		key:   lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

type recordRow struct {
	key   string
	value string
	style *lipgloss.Style
}

func renderRecord(out io.Writer, rec *record.Record, st recordStyle, width int) {
	stateStyle := st.ok
	if rec.State != "done" {
		stateStyle = st.bad
	}
	rows := []recordRow{
		{key: "state", value: rec.State, style: &stateStyle},
		{key: "abi", value: rec.ABI},
		{key: "model", value: rec.Model},
		{key: "toolchain", value: rec.Toolchain},
		{key: "output", value: rec.Output},
		{key: "compile", value: strings.Join(quoteArgs(rec.CompileArgv), " ")},
	}
	if rec.Failure != "" {
		rows = append(rows, recordRow{key: "failure", value: rec.Failure, style: &st.bad})
	}
	if rec.Response != "" {
		rows = append(rows, recordRow{key: "response file", value: rec.Response})
	}
	if len(rec.LinkArgv) > 0 {
		rows = append(rows, recordRow{key: "link", value: strings.Join(quoteArgs(rec.LinkArgv), " ")})
	}
	for i, c := range rec.Carriers {
		rows = append(rows, recordRow{key: fmt.Sprintf("carrier %d", i), value: c})
	}
	for _, s := range rec.Skipped {
		rows = append(rows, recordRow{key: "skipped", value: s.Input + ": " + s.Reason, style: &st.dim})
	}
	if rec.OMPRequires != nil {
		rows = append(rows, recordRow{key: "omp requires", value: fmt.Sprintf("%#x", *rec.OMPRequires)})
	}
	if rec.CompileExit != 0 {
		rows = append(rows, recordRow{key: "compile exit", value: fmt.Sprint(rec.CompileExit), style: &st.bad})
	}
	if rec.LinkExit != 0 {
		rows = append(rows, recordRow{key: "link exit", value: fmt.Sprint(rec.LinkExit), style: &st.bad})
	}
	stages := make([]string, 0, len(rec.Timings))
	for stage := range rec.Timings {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		rows = append(rows, recordRow{key: "time " + stage, value: rec.Timings[stage].Round(time.Microsecond).String(), style: &st.dim})
	}

	keyWidth := 0
	for _, r := range rows {
		keyWidth = max(keyWidth, runewidth.StringWidth(r.key))
	}

	title := fmt.Sprintf("%s %s", rec.Tool, rec.Version)
	if !rec.CreatedAt.IsZero() {
		title += " at " + rec.CreatedAt.Local().Format(time.RFC3339)
	}
	fmt.Fprintln(out, st.title.Render(title))
	for _, r := range rows {
		key := runewidth.FillRight(r.key, keyWidth)
		value := fitValue(r.value, width-keyWidth-2)
		if r.style != nil {
			value = r.style.Render(value)
		}
		fmt.Fprintf(out, "%s  %s\n", st.key.Render(key), value)
	}
}

func fitValue(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}

func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			out[i] = fmt.Sprintf("%q", a)
			continue
		}
		out[i] = a
	}
	return out
}
