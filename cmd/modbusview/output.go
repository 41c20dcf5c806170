package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	modbusview "github.com/edgeo-scada/modbus-view"
)

// Color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

var outputFormats = []string{"table", "json", "csv", "yaml", "raw"}

func validOutput(format string) bool {
	for _, f := range outputFormats {
		if f == format {
			return true
		}
	}
	return false
}

func color(c, s string) string {
	if noColor {
		return s
	}
	return c + s + colorReset
}

func outputSuccess(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(color(colorGreen, "OK") + " " + msg)
}

func outputError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, color(colorRed, "ERROR")+" "+msg)
}

func outputWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, color(colorYellow, "WARN")+" "+msg)
}

func outputInfo(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(color(colorCyan, "INFO") + " " + msg)
}

// RowResult is one row of a view in structured output.
type RowResult struct {
	Index   int    `json:"index" yaml:"index"`
	Address uint16 `json:"address" yaml:"address"`
	Value   any    `json:"value" yaml:"value"`
	Hex     string `json:"hex,omitempty" yaml:"hex,omitempty"`
}

// ViewResult is a whole view in structured output.
type ViewResult struct {
	Category string      `json:"category" yaml:"category"`
	Encoding string      `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	Start    uint16      `json:"start_address" yaml:"start_address"`
	Rows     []RowResult `json:"rows" yaml:"rows"`
}

func collectView(v *modbusview.RegisterView) ViewResult {
	category := v.ReadCategory()
	result := ViewResult{
		Category: category.String(),
		Start:    v.StartAddress(),
	}
	if !category.IsBit() {
		result.Encoding = v.OutputEncoding().String()
	}

	rows := v.Rows()
	if len(rows) > 0 {
		result.Start = rows[0].Address
	}
	result.Rows = make([]RowResult, len(rows))
	for i, r := range rows {
		result.Rows[i] = RowResult{
			Index:   r.Index,
			Address: r.Address,
			Value:   r.Cell.Value(),
			Hex:     cellHex(r.Cell),
		}
	}
	return result
}

func cellHex(c modbusview.Cell) string {
	switch c.Kind {
	case modbusview.KindUint16:
		return fmt.Sprintf("0x%04X", c.Uint16())
	case modbusview.KindUint32, modbusview.KindFloat32:
		return fmt.Sprintf("0x%08X", c.Uint32())
	case modbusview.KindFloat64:
		return fmt.Sprintf("0x%016X", c.Bits())
	default:
		return ""
	}
}

func categoryTitle(c modbusview.RegisterCategory) string {
	switch c {
	case modbusview.Coil:
		return "Coils"
	case modbusview.Input:
		return "Discrete Inputs"
	default:
		return "Holding Registers"
	}
}

// writeView prints the rows of v in the given format.
func writeView(w io.Writer, format string, v *modbusview.RegisterView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(collectView(v))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(collectView(v)); err != nil {
			return err
		}
		return enc.Close()
	case "csv":
		return writeViewCSV(w, v)
	case "raw":
		return writeViewRaw(w, v)
	default:
		return writeViewTable(w, v)
	}
}

func writeViewTable(w io.Writer, v *modbusview.RegisterView) error {
	category := v.ReadCategory()
	rows := v.Rows()
	width := uint16(1)
	if !category.IsBit() {
		width = uint16(v.OutputEncoding().RegistersPerValue())
	}

	title := categoryTitle(category)
	if !category.IsBit() {
		title += " as " + v.OutputEncoding().String()
	}
	if len(rows) == 0 {
		fmt.Fprintf(w, "\n%s: no data\n\n", color(colorBold, title))
		return nil
	}
	last := rows[len(rows)-1].Address + width - 1
	fmt.Fprintf(w, "\n%s (Address %d-%d, Rows: %d)\n",
		color(colorBold, title),
		rows[0].Address,
		last,
		len(rows))
	fmt.Fprintln(w, strings.Repeat("-", 50))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if category.IsBit() {
		fmt.Fprintln(tw, "ROW\tADDRESS\tVALUE\tSTATUS")
		fmt.Fprintln(tw, "---\t-------\t-----\t------")
		for _, r := range rows {
			status := color(colorRed, "OFF")
			if r.Cell.Bool() {
				status = color(colorGreen, "ON")
			}
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", r.Index, r.Address, r.Cell, status)
		}
	} else {
		fmt.Fprintln(tw, "ROW\tADDRESS\tVALUE\tHEX")
		fmt.Fprintln(tw, "---\t-------\t-----\t---")
		for _, r := range rows {
			addr := strconv.Itoa(int(r.Address))
			if width > 1 {
				addr = fmt.Sprintf("%d-%d", r.Address, r.Address+width-1)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Index, addr, r.Cell, cellHex(r.Cell))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

func writeViewCSV(w io.Writer, v *modbusview.RegisterView) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"index", "address", "value", "hex"})
	for _, r := range v.Rows() {
		cw.Write([]string{
			strconv.Itoa(r.Index),
			strconv.Itoa(int(r.Address)),
			r.Cell.String(),
			cellHex(r.Cell),
		})
	}
	cw.Flush()
	return cw.Error()
}

func writeViewRaw(w io.Writer, v *modbusview.RegisterView) error {
	rows := v.Rows()
	if v.ReadCategory().IsBit() {
		var sb strings.Builder
		for _, r := range rows {
			sb.WriteString(r.Cell.String())
		}
		_, err := fmt.Fprintln(w, sb.String())
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintln(w, r.Cell); err != nil {
			return err
		}
	}
	return nil
}
