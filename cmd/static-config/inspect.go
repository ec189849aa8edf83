package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/reconcilerio/static-config/component"
	"github.com/reconcilerio/static-config/runtime"
	"github.com/reconcilerio/static-config/witmeta"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	keyStyle = cellStyle.
			Foreground(lipgloss.Color("#98FB98"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// runInspect prints the entries embedded in the artifact at path.
func runInspect(ctx context.Context, path string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}

	store, err := runtime.Load(ctx, data)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	entries, err := store.GetAll(ctx)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, []string{strconv.Itoa(i), e.Key, e.Value})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 1:
				return keyStyle
			default:
				return cellStyle
			}
		}).
		Headers("#", "KEY", "VALUE").
		Rows(rows...)

	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s: %d entries", path, len(entries))))
	if err := printMetadata(data, w); err != nil {
		return err
	}
	fmt.Fprintln(w, t.String())
	return nil
}

// printMetadata prints the world and producers recorded in the
// component-type section of a component. Core modules carry none.
func printMetadata(data []byte, w io.Writer) error {
	if !component.IsComponent(data) {
		return nil
	}
	c, err := component.Decode(data)
	if err != nil {
		return err
	}
	for _, cs := range c.CustomSections {
		if !strings.HasPrefix(cs.Name, witmeta.ComponentTypePrefix) {
			continue
		}
		s, err := witmeta.Describe(cs.Data)
		if err != nil {
			return fmt.Errorf("%s: %w", cs.Name, err)
		}
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("world"), s.World)
		for _, f := range s.Producers.Fields {
			for _, p := range f.Values {
				fmt.Fprintf(w, "%s %s %s\n", labelStyle.Render(f.Name), p.Name, p.Version)
			}
		}
	}
	return nil
}
