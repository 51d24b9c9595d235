package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"stackbuild/internal/project"
)

func newListCommand(app *App) *cobra.Command {
	var (
		typ    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the known projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var t project.Type
			if typ != "" {
				var err error
				if t, err = project.ParseType(typ); err != nil {
					return err
				}
			}
			reg, err := app.loadRegistry()
			if err != nil {
				return err
			}
			infos := reg.List(t)
			if asJSON {
				return writeListJSON(cmd.OutOrStdout(), infos)
			}
			writeListText(cmd.OutOrStdout(), infos)
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "Only show projects of this type (library, tool, language-runtime, group)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Show the list as JSON")
	return cmd
}

// writeListText prints the projects grouped by type, names padded to the
// longest name.
func writeListText(w io.Writer, infos []project.Info) {
	width := 0
	for _, i := range infos {
		width = max(width, len(i.Name))
	}
	for _, t := range project.Types {
		header := false
		for _, i := range infos {
			if i.Type != t {
				continue
			}
			if !header {
				fmt.Fprintf(w, "Available projects with type %s:\n", t)
				header = true
			}
			fmt.Fprintf(w, "\t%-*s %s\n", width, i.Name, i.Version)
		}
	}
}

// writeListJSON prints {name: {dependencies, type, version}} with sorted
// keys.
func writeListJSON(w io.Writer, infos []project.Info) error {
	byName := make(map[string]project.Info, len(infos))
	for _, i := range infos {
		byName[i.Name] = i
	}
	b, err := json.MarshalIndent(byName, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
