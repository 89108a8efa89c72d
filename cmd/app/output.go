package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/atvirokodosprendimai/dynamicapi/internal/application"
)

func jsonMarshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func printJSON(v any) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

type routeRow struct {
	Entity  string                    `json:"entity"`
	Type    string                    `json:"type"`
	Method  string                    `json:"method"`
	Path    string                    `json:"path"`
	Event   string                    `json:"event,omitempty"`
	Guarded bool                      `json:"guarded"`
	Names   application.ArtifactNames `json:"names"`
}

func routeRows(routes []*application.Route) []routeRow {
	out := make([]routeRow, 0, len(routes))
	for _, rt := range routes {
		out = append(out, routeRow{
			Entity:  rt.Entity.Name,
			Type:    string(rt.Type),
			Method:  rt.Method,
			Path:    rt.Path,
			Event:   rt.Event,
			Guarded: rt.Guarded(),
			Names:   rt.Names,
		})
	}
	return out
}

func printRoutes(routes []*application.Route) {
	rows := make([][]string, 0, len(routes))
	for _, r := range routeRows(routes) {
		event := r.Event
		if event == "" {
			event = "-"
		}
		rows = append(rows, []string{r.Names.Service, r.Method, r.Path, event, strconv.FormatBool(r.Guarded)})
	}
	printTable([]string{"SERVICE", "METHOD", "PATH", "EVENT", "GUARDED"}, rows)
}

func printEvents(events []string) {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{e})
	}
	printTable([]string{"EVENT"}, rows)
}
