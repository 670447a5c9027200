package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/gopherchat/internal/chat"
)

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsListCmd, topicsDeleteCmd)
	topicsDeleteCmd.Flags().BoolP("yes", "y", false, "delete without asking")
}

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List or delete saved conversations",
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List topics, most recently active first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.svc.RefreshTopics(cmd.Context()); err != nil {
			return err
		}
		active, archived := chat.PartitionTopics(a.store.Topics())
		current, _ := a.store.CurrentTopic()
		printTopics(cmd.OutOrStdout(), active, archived, current)
		return nil
	},
}

func printTopics(w io.Writer, active, archived []chat.Topic, current string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tTITLE\tLAST ACTIVE")
	row := func(t chat.Topic) {
		mark := ""
		if t.ID == current {
			mark = "*"
		}
		last := "-"
		if !t.LastActiveAt.IsZero() {
			last = t.LastActiveAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, t.ID, t.Title, last)
	}
	for _, t := range active {
		row(t)
	}
	if len(archived) > 0 {
		fmt.Fprintln(tw, "\tarchived\t\t")
		for _, t := range archived {
			row(t)
		}
	}
	_ = tw.Flush()
}

var topicsDeleteCmd = &cobra.Command{
	Use:   "delete <topic-id>",
	Short: "Delete a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var confirm chat.Confirmer = promptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr())
		if yes, _ := cmd.Flags().GetBool("yes"); yes {
			confirm = chat.Confirmed(true)
		}
		deleted, err := a.svc.DeleteTopic(cmd.Context(), args[0], confirm)
		if err != nil {
			return err
		}
		if deleted {
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		}
		return nil
	},
}

// promptConfirmer asks on out and reads the answer from in.
func promptConfirmer(in io.Reader, out io.Writer) chat.Confirmer {
	return chat.ConfirmFunc(func(_ context.Context, prompt string) bool {
		fmt.Fprintf(out, "%s [y/N] ", prompt)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes", "是":
			return true
		}
		return false
	})
}
