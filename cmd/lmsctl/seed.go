package main

import (
	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-progress/internal/content"
)

var seedCmd = &cobra.Command{
	Use:   "seed <catalog.yaml>",
	Short: "Load a course catalog into the content tables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := content.LoadCatalog(args[0])
		if err != nil {
			return err
		}
		if err := cat.Apply(cmd.Context(), lms.Content); err != nil {
			return err
		}
		return printJSON(cmd, map[string]int{"courses": len(cat.Courses), "questions": len(cat.Questions)})
	},
}
