// Package polls holds the poll and vote model: drafts, tallies and the
// optimistic percentages shown while a vote is still being written.
package polls

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"scanasha/internal/validation"
)

// TempVotePrefix marks a vote that exists only on the client so far.
const TempVotePrefix = "temp-id"

// Option is one answer of a poll.
type Option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Poll is a published poll.
type Poll struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	Author      string    `json:"author"`
	Options     []Option  `json:"options"`
}

// Vote is one voter's choice.
type Vote struct {
	ID        string    `json:"id"`
	PollID    string    `json:"pollID"`
	OptionID  string    `json:"optionID"`
	IsValid   bool      `json:"isValid"`
	CreatedAt time.Time `json:"createdAt"`
	Voter     string    `json:"voter"`
}

// OptionTally counts votes for one option.
type OptionTally struct {
	Option     Option `json:"option"`
	VotesCount int    `json:"votesCount"`
	Votes      []Vote `json:"votes"`
}

// PollWithVotes is a poll together with its votes grouped by option.
type PollWithVotes struct {
	Poll
	Votes         []Vote        `json:"votes"`
	VotesByOption []OptionTally `json:"optionsWithVotes"`
	TotalVotes    int           `json:"totalVotes"`
	// Error is set when the votes of this poll could not be loaded.
	Error string `json:"error,omitempty"`
}

// Draft is the user-submitted form of a new poll.
type Draft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Options     []string `json:"options"`
}

// ValidateDraft checks the poll form. Every violation is reported.
func ValidateDraft(d Draft) error {
	var errs validation.Errors
	errs.MinLength("title", strings.TrimSpace(d.Title), 5, "Title must be at least 5 characters.")
	errs.MinLength("description", strings.TrimSpace(d.Description), 5, "Description must be at least 5 characters.")
	if len(d.Options) < 2 {
		errs.Add("options", "You must provide at least 2 options.")
	}
	for i, o := range d.Options {
		if strings.TrimSpace(o) == "" {
			errs.Add("options."+strconv.Itoa(i), "Option must be at least 1 character.")
		}
	}
	return errs.Err()
}

// NewOptions assigns a fresh ID to every option name.
func NewOptions(names []string) []Option {
	out := make([]Option, len(names))
	for i, n := range names {
		out[i] = Option{ID: uuid.NewString(), Name: strings.TrimSpace(n)}
	}
	return out
}

// Tally groups votes by option. Votes for unknown options count toward the
// total but belong to no option.
func Tally(p Poll, votes []Vote) PollWithVotes {
	byOption := make([]OptionTally, len(p.Options))
	index := make(map[string]int, len(p.Options))
	for i, o := range p.Options {
		byOption[i] = OptionTally{Option: o, Votes: []Vote{}}
		index[o.ID] = i
	}
	for _, v := range votes {
		if i, ok := index[v.OptionID]; ok {
			byOption[i].Votes = append(byOption[i].Votes, v)
			byOption[i].VotesCount++
		}
	}
	if votes == nil {
		votes = []Vote{}
	}
	return PollWithVotes{
		Poll:          p,
		Votes:         votes,
		VotesByOption: byOption,
		TotalVotes:    len(votes),
	}
}

func countFor(optionID string, tallies []OptionTally) int {
	for _, t := range tallies {
		if t.Option.ID == optionID {
			return t.VotesCount
		}
	}
	return 0
}

// OptionPercentage returns the rounded share of total held by optionID.
func OptionPercentage(optionID string, tallies []OptionTally, total int) int {
	if total == 0 {
		return 0
	}
	return roundPercent(countFor(optionID, tallies), total)
}

// Percentages maps every option to OptionPercentage.
func Percentages(pw PollWithVotes) map[string]int {
	out := make(map[string]int, len(pw.VotesByOption))
	for _, t := range pw.VotesByOption {
		out[t.Option.ID] = OptionPercentage(t.Option.ID, pw.VotesByOption, pw.TotalVotes)
	}
	return out
}

func roundPercent(count, total int) int {
	return int(math.Floor(float64(count)/float64(total)*100 + 0.5))
}

// IsTempVote reports whether v was created optimistically.
func IsTempVote(v Vote) bool {
	return strings.HasPrefix(v.ID, TempVotePrefix)
}

// NewTempVote builds the optimistic vote added when the voter clicks an option.
func NewTempVote(pollID, optionID, voter string, now time.Time) Vote {
	return Vote{
		ID:        TempVotePrefix + "_" + optionID,
		PollID:    pollID,
		OptionID:  optionID,
		IsValid:   true,
		CreatedAt: now,
		Voter:     voter,
	}
}

// OptimisticPercentages recomputes the shares of the selected options as if
// the pending temp votes were already stored. Without a temp selection prev
// is returned unchanged; a nil prev yields an empty map.
func OptimisticPercentages(prev map[string]int, selections []Vote, tallies []OptionTally, total int) map[string]int {
	if prev == nil {
		return map[string]int{}
	}

	temp := 0
	for _, s := range selections {
		if IsTempVote(s) {
			temp++
		}
	}
	if temp == 0 {
		return prev
	}

	out := make(map[string]int, len(prev)+len(selections))
	for k, v := range prev {
		out[k] = v
	}
	newTotal := total + temp
	for _, s := range selections {
		count := countFor(s.OptionID, tallies)
		if IsTempVote(s) {
			count++
		}
		out[s.OptionID] = roundPercent(count, newTotal)
	}
	return out
}

// VoterSelections returns the votes voter cast in pollID.
func VoterSelections(votes []Vote, voter, pollID string) []Vote {
	var out []Vote
	for _, v := range votes {
		if v.Voter == voter && v.PollID == pollID {
			out = append(out, v)
		}
	}
	return out
}

// HasVoted reports whether voter already has a vote in pollID.
func HasVoted(votes []Vote, voter, pollID string) bool {
	return len(VoterSelections(votes, voter, pollID)) > 0
}

// FindOption returns the option with id.
func (p Poll) FindOption(id string) (Option, bool) {
	for _, o := range p.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}
