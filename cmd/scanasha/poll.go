package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"scanasha/internal/polls"
	"scanasha/internal/store"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Inspect registry polls",
}

var pollTallyCmd = &cobra.Command{
	Use:   "tally <poll-id>",
	Short: "Print the vote distribution of a poll",
	Args:  cobra.ExactArgs(1),
	RunE:  runPollTally,
}

var (
	tallyAs   string
	tallyVote string
)

var (
	tallyTitle = lipgloss.NewStyle().Bold(true)
	tallyMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("#94a3b8"))
	tallyBar   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ade80"))
)

func init() {
	pollTallyCmd.Flags().StringVar(&tallyAs, "as", "", "Mark the options chosen by this voter DID")
	pollTallyCmd.Flags().StringVar(&tallyVote, "vote", "", "Preview the shares as if --as voted for this option ID")
	pollCmd.AddCommand(pollTallyCmd)
}

// tallyView selects whose votes are highlighted and an optional pending vote.
type tallyView struct {
	Voter   string
	Preview string
}

func runPollTally(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	p, err := st.GetPoll(ctx, args[0])
	if err != nil {
		return err
	}
	votes, err := st.ListVotesByPoll(ctx, p.ID, store.MaxPageSize)
	if err != nil {
		return err
	}
	out, err := renderTally(polls.Tally(p, votes), tallyView{Voter: tallyAs, Preview: tallyVote}, time.Now())
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func renderTally(pw polls.PollWithVotes, view tallyView, now time.Time) (string, error) {
	if view.Preview != "" && view.Voter == "" {
		return "", errors.New("--vote needs --as")
	}

	var b strings.Builder
	b.WriteString(tallyTitle.Render(pw.Title) + "\n")
	b.WriteString(tallyMuted.Render(fmt.Sprintf("by %s, %s, %d votes",
		pw.Author, polls.FormatRelativeTime(now, pw.CreatedAt), pw.TotalVotes)) + "\n\n")

	pct := polls.Percentages(pw)
	var selections []polls.Vote
	if view.Voter != "" {
		selections = polls.VoterSelections(pw.Votes, view.Voter, pw.ID)
	}
	if view.Preview != "" {
		if _, ok := pw.FindOption(view.Preview); !ok {
			return "", fmt.Errorf("poll %s has no option %q", pw.ID, view.Preview)
		}
		if polls.HasVoted(pw.Votes, view.Voter, pw.ID) {
			return "", fmt.Errorf("%s already voted in poll %s", view.Voter, pw.ID)
		}
		selections = append(selections, polls.NewTempVote(pw.ID, view.Preview, view.Voter, now))
		pct = polls.OptimisticPercentages(pct, selections, pw.VotesByOption, pw.TotalVotes)
	}

	chosen := make(map[string]string, len(selections))
	for _, v := range selections {
		if polls.IsTempVote(v) {
			chosen[v.OptionID] = " ◀ preview"
		} else {
			chosen[v.OptionID] = " ◀ voted"
		}
	}

	for _, t := range pw.VotesByOption {
		p := pct[t.Option.ID]
		bar := tallyBar.Render(strings.Repeat("█", p/5))
		fmt.Fprintf(&b, "%-24s %3d%% %s (%d)%s\n", t.Option.Name, p, bar, t.VotesCount, chosen[t.Option.ID])
	}
	if view.Voter != "" && len(selections) == 0 {
		b.WriteString("\n" + tallyMuted.Render(view.Voter+" has not voted") + "\n")
	}
	return b.String(), nil
}
