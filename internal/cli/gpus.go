// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// gpus.go - list, count and info commands.
//
// Examples:
//
//	gpuinfo                  Table of every GPU
//	gpuinfo list -v          Table plus per-vendor detection details
//	gpuinfo count            Bare number, for scripts
//	gpuinfo info 1 --json    One record as JSON
//
// Fields a backend could not read are shown as "-" rather than 0.
package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/gpuinfo/internal/util"
	"github.com/jeranaias/gpuinfo/pkg/gpuinfo"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

const unknownValue = "-"

// =============================================================================
// LIST
// =============================================================================

// HandleList handles the "list" command.
func HandleList(args Args) error {
	m, _, _, err := openManager(args)
	if err != nil {
		return err
	}
	defer m.Cleanup()

	records, err := m.All()
	if err != nil {
		return err
	}

	var census *gpuinfo.Census
	if args.Verbose {
		if c, err := m.Census(); err == nil {
			census = &c
		}
	}

	if args.JSON {
		return NewJSONResponse("list", ListData{Count: len(records), GPUs: records, Census: census}).Print()
	}

	if len(records) == 0 {
		fmt.Fprintln(stdout, DimStyle.Render("No GPUs detected."))
	} else {
		fmt.Fprint(stdout, renderTable(records, GetTerminalWidth()))
	}
	if census != nil {
		fmt.Fprintln(stdout)
		fmt.Fprint(stdout, renderCensus(*census))
	}
	return nil
}

// column is one table column. cell returns the plain text and the style
// applied after padding, so ANSI codes never affect alignment.
type column struct {
	header string
	width  int
	cell   func(r *model.Record) (string, func(string) string)
}

func plain(s string) (string, func(string) string) { return s, nil }

var tableColumns = []column{
	{"IDX", 3, func(r *model.Record) (string, func(string) string) {
		return plain(strconv.Itoa(r.Index))
	}},
	{"VENDOR", 6, func(r *model.Record) (string, func(string) string) {
		v := r.Vendor.String()
		return v, styled(VendorStyles[v])
	}},
	{"NAME", 0, func(r *model.Record) (string, func(string) string) {
		return plain(r.Name)
	}},
	{"MEMORY", 17, func(r *model.Record) (string, func(string) string) {
		return plain(formatMemory(r))
	}},
	{"GPU", 4, func(r *model.Record) (string, func(string) string) {
		if !r.Fields.Has(model.FieldGPUUtilization) {
			return plain(unknownValue)
		}
		return fmt.Sprintf("%.0f%%", r.GPUUtilization), styled(usageLevelStyle(r.GPUUtilization))
	}},
	{"TEMP", 5, func(r *model.Record) (string, func(string) string) {
		if !r.Fields.Has(model.FieldTemperature) {
			return plain(unknownValue)
		}
		return fmt.Sprintf("%.0fC", r.TemperatureC), styled(tempLevelStyle(r.TemperatureC))
	}},
	{"POWER", 6, func(r *model.Record) (string, func(string) string) {
		if !r.Fields.Has(model.FieldPower) {
			return plain(unknownValue)
		}
		return plain(util.FormatFloat(r.PowerW, 0) + "W")
	}},
}

// renderTable lays the records out in columns fitted to width. The name
// column takes whatever the fixed columns leave.
func renderTable(records []*model.Record, width int) string {
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	fixed := 0
	for _, c := range tableColumns {
		fixed += c.width + 2
	}
	nameWidth := width - fixed
	if nameWidth < 12 {
		nameWidth = 12
	}
	if nameWidth > 40 {
		nameWidth = 40
	}

	var b strings.Builder
	header := make([]string, len(tableColumns))
	for i, c := range tableColumns {
		w := c.width
		if w == 0 {
			w = nameWidth
		}
		header[i] = HeaderStyle.Render(util.PadRight(c.header, w))
	}
	b.WriteString(strings.TrimRight(strings.Join(header, "  "), " "))
	b.WriteString("\n")

	for i, r := range records {
		if r == nil {
			fmt.Fprintf(&b, "%s  %s\n", util.PadRight(strconv.Itoa(i), 3), ErrorStyle.Render("query failed"))
			continue
		}
		cells := make([]string, len(tableColumns))
		for j, c := range tableColumns {
			w := c.width
			if w == 0 {
				w = nameWidth
			}
			text, style := c.cell(r)
			text = util.PadRight(util.TruncateWidth(text, w), w)
			if style != nil {
				text = style(text)
			}
			cells[j] = text
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		b.WriteString("\n")
	}
	return b.String()
}

// formatMemory renders "used / total", or just the total when usage is
// unknown.
func formatMemory(r *model.Record) string {
	if !r.Fields.Has(model.FieldMemoryTotal) {
		return unknownValue
	}
	total := util.FormatMB(r.Memory.Total)
	if !r.Fields.Has(model.FieldMemoryUsed) {
		return total
	}
	return util.FormatMB(r.Memory.Used) + " / " + total
}

// renderCensus shows which strategy each vendor backend settled on and what
// it tried first.
func renderCensus(c gpuinfo.Census) string {
	var b strings.Builder
	b.WriteString(SectionStyle.Render("Backends"))
	b.WriteString("\n")
	for _, v := range c.Vendors {
		status := SuccessStyle.Render(fmt.Sprintf("%d GPU(s)", v.Count))
		if v.Err != nil {
			status = DimStyle.Render("unavailable")
		}
		strategy := v.Strategy
		if strategy == "" {
			strategy = unknownValue
		}
		fmt.Fprintf(&b, "  %s %s via %s\n", RenderLabel(v.Vendor.String()), status, strategy)
		for _, a := range v.Attempts {
			if a.Err != "" {
				fmt.Fprintf(&b, "      %s %s\n", DimStyle.Render(a.Strategy+":"), DimStyle.Render(a.Err))
			}
		}
	}
	return b.String()
}

// =============================================================================
// COUNT
// =============================================================================

// HandleCount handles the "count" command. The human form is the bare
// number so it can be used in shell scripts.
func HandleCount(args Args) error {
	m, _, _, err := openManager(args)
	if err != nil {
		return err
	}
	defer m.Cleanup()

	c, err := m.Census()
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("count", CountData{Count: c.Total, NoDevice: c.NoDevice}).Print()
	}
	fmt.Fprintln(stdout, c.Total)
	return nil
}

// =============================================================================
// INFO
// =============================================================================

// ParseIndex validates a GPU index argument.
func ParseIndex(s string) (int, error) {
	if s == "" {
		return 0, ErrMissingArgument("index", "gpuinfo info 0")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &ValidationError{
			Field:   "index",
			Value:   s,
			Reason:  "must be a non-negative integer",
			Example: "gpuinfo info 0",
		}
	}
	return n, nil
}

// HandleInfo handles the "info" command.
func HandleInfo(args Args) error {
	index, err := ParseIndex(args.IndexArg)
	if err != nil {
		return err
	}

	m, _, _, err := openManager(args)
	if err != nil {
		return err
	}
	defer m.Cleanup()

	rec, err := m.Info(index)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("info", rec).Print()
	}
	fmt.Fprint(stdout, renderRecord(rec))
	return nil
}

// renderRecord renders one record as labeled sections.
func renderRecord(r *model.Record) string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "  %s %s\n", RenderLabel(label), value)
	}
	known := func(f model.Field, s string) string {
		if !r.Fields.Has(f) {
			return DimStyle.Render("n/a")
		}
		return ValueStyle.Render(s)
	}

	fmt.Fprintf(&b, "%s\n", TitleStyle.Render(fmt.Sprintf("GPU %d: %s", r.Index, r.Name)))

	b.WriteString(SectionStyle.Render("Identity"))
	b.WriteString("\n")
	line("Vendor", RenderVendor(r.Vendor.String()))
	line("Name", known(model.FieldName, r.Name))
	line("UUID", known(model.FieldUUID, r.UUID))
	line("PCI Bus ID", known(model.FieldPCIBusID, r.PCIBusID))
	line("Source", ValueStyle.Render(string(r.Source)))

	if r.IsPlaceholder() {
		b.WriteString("\n")
		b.WriteString(WarningStyle.Render("  Driver present but no telemetry backend answered; values are placeholders."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString(SectionStyle.Render("Memory"))
	b.WriteString("\n")
	line("Total", known(model.FieldMemoryTotal, util.FormatMB(r.Memory.Total)))
	line("Used", known(model.FieldMemoryUsed, util.FormatMB(r.Memory.Used)))
	if r.Fields.Has(model.FieldMemoryTotal) && r.Fields.Has(model.FieldMemoryUsed) {
		line("Free", ValueStyle.Render(util.FormatMB(r.Memory.Free)))
	} else {
		line("Free", known(model.FieldMemoryFree, util.FormatMB(r.Memory.Free)))
	}

	b.WriteString("\n")
	b.WriteString(SectionStyle.Render("Activity"))
	b.WriteString("\n")
	line("GPU", known(model.FieldGPUUtilization, util.FormatFloat(r.GPUUtilization, 1)+"%"))
	line("Memory", known(model.FieldMemoryUtilization, util.FormatFloat(r.MemoryUtilization, 1)+"%"))
	line("Core Clock", known(model.FieldCoreClock, fmt.Sprintf("%d MHz", r.CoreClockMHz)))
	line("Memory Clock", known(model.FieldMemoryClock, fmt.Sprintf("%d MHz", r.MemoryClockMHz)))

	b.WriteString("\n")
	b.WriteString(SectionStyle.Render("Thermals"))
	b.WriteString("\n")
	line("Temperature", known(model.FieldTemperature, util.FormatFloat(r.TemperatureC, 1)+" C"))
	line("Power", known(model.FieldPower, util.FormatFloat(r.PowerW, 1)+" W"))
	line("Fan", known(model.FieldFanSpeed, util.FormatFloat(r.FanSpeedPercent, 0)+"%"))

	return b.String()
}
