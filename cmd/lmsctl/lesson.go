package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-progress/internal/activity"
)

var lessonCmd = &cobra.Command{
	Use:   "lesson",
	Short: "Lesson status operations",
}

var lessonStartCmd = &cobra.Command{
	Use:   "start <user> <lesson>",
	Short: "Start a lesson (and its course) for a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "lesson")
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force-complete")
		rec, err := lms.Progress.StartLesson(cmd.Context(), v[0], v[1], force)
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	},
}

var lessonStatusCmd = &cobra.Command{
	Use:   "status <user> <lesson>",
	Short: "Show a user's lesson status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "lesson")
		if err != nil {
			return err
		}
		rec, err := lms.Progress.LessonStatus(cmd.Context(), v[0], v[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	},
}

var lessonSetStatusCmd = &cobra.Command{
	Use:   "set-status <user> <lesson> <status>",
	Short: "Write a lesson status",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "lesson")
		if err != nil {
			return err
		}
		pairs, _ := cmd.Flags().GetStringSlice("meta")
		meta, err := parseMeta(pairs)
		if err != nil {
			return err
		}
		id, err := lms.Progress.UpdateLessonStatus(cmd.Context(), v[0], v[1], activity.Status(args[2]), meta)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int64{"record_id": id})
	},
}

var lessonResetCmd = &cobra.Command{
	Use:   "reset <user> <lesson>",
	Short: "Delete quiz answers and return the lesson to in-progress",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "lesson")
		if err != nil {
			return err
		}
		rec, err := lms.Progress.ResetLesson(cmd.Context(), v[0], v[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	},
}

var lessonRemoveCmd = &cobra.Command{
	Use:   "remove <user> <lesson>",
	Short: "Remove a user's lesson progress and answers",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "lesson")
		if err != nil {
			return err
		}
		if err := lms.Progress.RemoveUserFromLesson(cmd.Context(), v[0], v[1]); err != nil {
			return err
		}
		return printJSON(cmd, map[string]bool{"removed": true})
	},
}

// parseMeta turns key=value pairs into metadata; integer values stay numeric.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid meta %q, want key=value", p)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			meta[k] = n
			continue
		}
		meta[k] = v
	}
	return meta, nil
}

func init() {
	lessonStartCmd.Flags().Bool("force-complete", false, "Mark the lesson complete (or passed with grade 100)")
	lessonSetStatusCmd.Flags().StringSlice("meta", nil, "Metadata key=value pairs")

	lessonCmd.AddCommand(lessonStartCmd)
	lessonCmd.AddCommand(lessonStatusCmd)
	lessonCmd.AddCommand(lessonSetStatusCmd)
	lessonCmd.AddCommand(lessonResetCmd)
	lessonCmd.AddCommand(lessonRemoveCmd)
}
