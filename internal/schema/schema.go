// Package schema describes the command tree as JSON so scripts and agents can
// discover commands and flags without parsing help text.
package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Command struct {
	Path        string    `json:"path"`
	Use         string    `json:"use"`
	Short       string    `json:"short"`
	Runnable    bool      `json:"runnable"`
	Flags       []Flag    `json:"flags,omitempty"`
	Inherited   []Flag    `json:"inherited_flags,omitempty"`
	Subcommands []Command `json:"subcommands,omitempty"`
}

type Flag struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Usage      string `json:"usage"`
	Default    string `json:"default,omitempty"`
	Required   bool   `json:"required,omitempty"`
	Repeatable bool   `json:"repeatable,omitempty"`
}

// Build describes root, or the command at the space-separated path below it.
// Inherited flags are only listed on the described command itself.
func Build(root *cobra.Command, path string) (Command, error) {
	cmd := root
	for _, part := range strings.Fields(path) {
		idx := slices.IndexFunc(cmd.Commands(), func(c *cobra.Command) bool {
			return c.Name() == part || slices.Contains(c.Aliases, part)
		})
		if idx < 0 {
			return Command{}, fmt.Errorf("command not found: %s", path)
		}
		cmd = cmd.Commands()[idx]
	}
	out := describe(cmd)
	out.Inherited = flags(cmd.InheritedFlags())
	return out, nil
}

func describe(cmd *cobra.Command) Command {
	out := Command{
		Path:     cmd.CommandPath(),
		Use:      cmd.Use,
		Short:    cmd.Short,
		Runnable: cmd.Runnable(),
		Flags:    flags(cmd.LocalNonPersistentFlags()),
	}
	if !cmd.HasParent() {
		out.Flags = flags(cmd.PersistentFlags())
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || !sub.IsAvailableCommand() {
			continue
		}
		out.Subcommands = append(out.Subcommands, describe(sub))
	}
	return out
}

func flags(set *pflag.FlagSet) []Flag {
	var items []Flag
	set.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		items = append(items, Flag{
			Name:       f.Name,
			Type:       f.Value.Type(),
			Usage:      f.Usage,
			Default:    f.DefValue,
			Required:   required,
			Repeatable: strings.HasSuffix(f.Value.Type(), "Array") || strings.HasSuffix(f.Value.Type(), "Slice"),
		})
	})
	return items
}
