package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-progress/internal/grading"
)

var quizCmd = &cobra.Command{
	Use:   "quiz",
	Short: "Question resolution and grading",
}

var quizResolveCmd = &cobra.Command{
	Use:   "resolve <user> <quiz>",
	Short: "Show the questions a user gets for a quiz",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "quiz")
		if err != nil {
			return err
		}
		authoring, _ := cmd.Flags().GetBool("authoring")
		qs, err := lms.Resolver.Resolve(cmd.Context(), v[1], v[0], authoring)
		if err != nil {
			return err
		}
		return printJSON(cmd, qs)
	},
}

var quizSubmitCmd = &cobra.Command{
	Use:   "submit <user> <quiz>",
	Short: "Submit answers and grade what can be graded",
	Long: `Submit answers as a JSON object keyed by question id, for example
  lmsctl quiz submit 7 111 --answers '{"1001":"paris","1003":["a","c"]}' --upload 1002=essay.pdf`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "quiz")
		if err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetString("answers")
		uploads, _ := cmd.Flags().GetStringSlice("upload")
		answers, closeFiles, err := parseAnswers(raw, uploads)
		if err != nil {
			return err
		}
		defer closeFiles()
		sub, err := lms.Grading.SubmitAnswers(cmd.Context(), v[0], v[1], answers)
		if err != nil {
			return err
		}
		return printJSON(cmd, sub)
	},
}

var quizGradeCmd = &cobra.Command{
	Use:   "grade <user> <quiz>",
	Short: "Aggregate answer grades into the quiz grade",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "quiz")
		if err != nil {
			return err
		}
		g, err := lms.Grading.GradeQuiz(cmd.Context(), v[0], v[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, g)
	},
}

var quizGradeQuestionCmd = &cobra.Command{
	Use:   "grade-question <user> <question> <grade>",
	Short: "Record an instructor grade for one answer",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "question", "grade")
		if err != nil {
			return err
		}
		note, _ := cmd.Flags().GetString("note")
		ctx := cmd.Context()
		id, err := lms.Grading.GradeQuestion(ctx, v[0], v[1], int(v[2]), note)
		if err != nil {
			return err
		}
		out := map[string]any{"record_id": id}
		if quizID, _ := cmd.Flags().GetInt64("regrade"); quizID != 0 {
			g, err := lms.Grading.GradeQuiz(ctx, v[0], quizID)
			if err != nil {
				return err
			}
			out["quiz"] = g
		}
		return printJSON(cmd, out)
	},
}

var quizClearGradeCmd = &cobra.Command{
	Use:   "clear-grade <user> <question>",
	Short: "Remove the grade from one answer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := ids(args, "user", "question")
		if err != nil {
			return err
		}
		if err := lms.Grading.ClearQuestionGrade(cmd.Context(), v[0], v[1]); err != nil {
			return err
		}
		return printJSON(cmd, map[string]bool{"cleared": true})
	},
}

// parseAnswers decodes the JSON answer object and opens upload files given
// as question=path. The returned func closes the files.
func parseAnswers(raw string, uploads []string) (map[int64]any, func(), error) {
	answers := map[int64]any{}
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	if raw != "" {
		var byKey map[string]any
		if err := json.Unmarshal([]byte(raw), &byKey); err != nil {
			return nil, closeAll, fmt.Errorf("invalid --answers: %w", err)
		}
		for k, val := range byKey {
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return nil, closeAll, fmt.Errorf("invalid question id %q", k)
			}
			answers[id] = val
		}
	}
	for _, u := range uploads {
		k, path, ok := strings.Cut(u, "=")
		id, err := strconv.ParseInt(k, 10, 64)
		if !ok || err != nil || path == "" {
			closeAll()
			return nil, func() {}, fmt.Errorf("invalid --upload %q, want question=path", u)
		}
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		files = append(files, f)
		answers[id] = grading.Upload{Name: filepath.Base(path), Body: f}
	}
	return answers, closeAll, nil
}

func init() {
	quizResolveCmd.Flags().Bool("authoring", false, "Resolve as an editor: no randomization, truncation or pinning")
	quizSubmitCmd.Flags().String("answers", "", "JSON object of question id to answer")
	quizSubmitCmd.Flags().StringSlice("upload", nil, "File upload answers as question=path")
	quizGradeQuestionCmd.Flags().String("note", "", "Instructor note")
	quizGradeQuestionCmd.Flags().Int64("regrade", 0, "Quiz id to re-aggregate after grading")

	quizCmd.AddCommand(quizResolveCmd)
	quizCmd.AddCommand(quizSubmitCmd)
	quizCmd.AddCommand(quizGradeCmd)
	quizCmd.AddCommand(quizGradeQuestionCmd)
	quizCmd.AddCommand(quizClearGradeCmd)
}
