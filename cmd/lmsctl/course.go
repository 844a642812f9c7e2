package main

import (
	"github.com/spf13/cobra"
)

var courseCmd = &cobra.Command{
	Use:   "course",
	Short: "Course status and grade operations",
}

var courseRecomputeCmd = &cobra.Command{
	Use:   "recompute <user> <course>",
	Short: "Recompute a user's course status from lesson statuses",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "course")
		if err != nil {
			return err
		}
		rec, err := lms.Progress.RecomputeCourseStatus(cmd.Context(), v[0], v[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	},
}

var courseStatusCmd = &cobra.Command{
	Use:   "status <user> <course>",
	Short: "Show a user's course status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "course")
		if err != nil {
			return err
		}
		rec, err := lms.Progress.CourseStatus(cmd.Context(), v[0], v[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	},
}

var coursePassmarkCmd = &cobra.Command{
	Use:   "passmark <course>",
	Short: "Show the course passmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "course")
		if err != nil {
			return err
		}
		pm, err := lms.Progress.CoursePassmark(cmd.Context(), v[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int{"passmark": pm})
	},
}

var courseGradeCmd = &cobra.Command{
	Use:   "grade <user> <course>",
	Short: "Show a user's course grade and whether it passes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "course")
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		grade, err := lms.Progress.CourseUserGrade(ctx, v[0], v[1])
		if err != nil {
			return err
		}
		passed, err := lms.Progress.UserPassedCourse(ctx, v[0], v[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"grade": grade, "passed": passed})
	},
}

var courseRemoveCmd = &cobra.Command{
	Use:   "remove <user> <course>",
	Short: "Remove a user's progress from every lesson of a course",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "course")
		if err != nil {
			return err
		}
		if err := lms.Progress.RemoveUserFromCourse(cmd.Context(), v[0], v[1]); err != nil {
			return err
		}
		return printJSON(cmd, map[string]bool{"removed": true})
	},
}

func init() {
	courseCmd.AddCommand(courseRecomputeCmd)
	courseCmd.AddCommand(courseStatusCmd)
	courseCmd.AddCommand(coursePassmarkCmd)
	courseCmd.AddCommand(courseGradeCmd)
	courseCmd.AddCommand(courseRemoveCmd)
}
