package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"scanasha/internal/logging"
	"scanasha/internal/polls"
)

// CreatePoll stores a poll with its options. Missing IDs are assigned.
func (s *Store) CreatePoll(ctx context.Context, p polls.Poll) (polls.Poll, error) {
	if p.ID == "" {
		p.ID = s.newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	for i := range p.Options {
		if p.Options[i].ID == "" {
			p.Options[i].ID = s.newID()
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return polls.Poll{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO polls (id, title, description, author, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Description, p.Author, toMillis(p.CreatedAt)); err != nil {
		return polls.Poll{}, fmt.Errorf("insert poll: %w", err)
	}
	for i, o := range p.Options {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO poll_options (id, poll_id, position, name) VALUES (?, ?, ?, ?)`,
			o.ID, p.ID, i, o.Name); err != nil {
			return polls.Poll{}, fmt.Errorf("insert option: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return polls.Poll{}, fmt.Errorf("commit: %w", err)
	}
	logging.StoreDebug("created poll %s with %d options", p.ID, len(p.Options))
	return p, nil
}

// GetPoll loads one poll.
func (s *Store) GetPoll(ctx context.Context, id string) (polls.Poll, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, author, created_at FROM polls WHERE id = ?`, id)
	p, err := scanPoll(row)
	if errors.Is(err, sql.ErrNoRows) {
		return polls.Poll{}, notFound("poll", id)
	}
	if err != nil {
		return polls.Poll{}, err
	}
	if err := s.attachOptions(ctx, []*polls.Poll{&p}); err != nil {
		return polls.Poll{}, err
	}
	return p, nil
}

// ListPolls returns the newest polls.
func (s *Store) ListPolls(ctx context.Context, limit int) ([]polls.Poll, error) {
	return s.queryPolls(ctx,
		`SELECT id, title, description, author, created_at FROM polls
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, clampLimit(limit))
}

// ListPollsByAuthor returns the newest polls created by author.
func (s *Store) ListPollsByAuthor(ctx context.Context, author string, limit int) ([]polls.Poll, error) {
	return s.queryPolls(ctx,
		`SELECT id, title, description, author, created_at FROM polls WHERE author = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, author, clampLimit(limit))
}

func (s *Store) queryPolls(ctx context.Context, query string, args ...any) ([]polls.Poll, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query polls: %w", err)
	}
	defer rows.Close()

	out := []polls.Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*polls.Poll, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := s.attachOptions(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) attachOptions(ctx context.Context, ps []*polls.Poll) error {
	if len(ps) == 0 {
		return nil
	}
	byID := make(map[string]*polls.Poll, len(ps))
	args := make([]any, len(ps))
	for i, p := range ps {
		p.Options = []polls.Option{}
		byID[p.ID] = p
		args[i] = p.ID
	}

	query := `SELECT id, poll_id, name FROM poll_options WHERE poll_id IN (?` +
		strings.Repeat(",?", len(ps)-1) + `) ORDER BY poll_id, position`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o polls.Option
		var pollID string
		if err := rows.Scan(&o.ID, &pollID, &o.Name); err != nil {
			return fmt.Errorf("scan option: %w", err)
		}
		if p, ok := byID[pollID]; ok {
			p.Options = append(p.Options, o)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoll(r rowScanner) (polls.Poll, error) {
	var p polls.Poll
	var created int64
	if err := r.Scan(&p.ID, &p.Title, &p.Description, &p.Author, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("scan poll: %w", err)
	}
	p.CreatedAt = fromMillis(created)
	return p, nil
}

// CreateVote records a vote. A voter may vote once per poll and only for one
// of the poll's options.
func (s *Store) CreateVote(ctx context.Context, v polls.Vote) (polls.Vote, error) {
	p, err := s.GetPoll(ctx, v.PollID)
	if err != nil {
		return polls.Vote{}, err
	}
	if _, ok := p.FindOption(v.OptionID); !ok {
		return polls.Vote{}, fmt.Errorf("%w: %s", ErrUnknownOption, v.OptionID)
	}
	if v.ID == "" || polls.IsTempVote(v) {
		v.ID = s.newID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	v.IsValid = true

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO votes (id, poll_id, option_id, is_valid, voter, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.PollID, v.OptionID, v.IsValid, v.Voter, toMillis(v.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return polls.Vote{}, ErrAlreadyVoted
		}
		return polls.Vote{}, fmt.Errorf("insert vote: %w", err)
	}
	return v, nil
}

// ListVotesByPoll returns the newest votes of a poll.
func (s *Store) ListVotesByPoll(ctx context.Context, pollID string, limit int) ([]polls.Vote, error) {
	return s.queryVotes(ctx,
		`SELECT id, poll_id, option_id, is_valid, voter, created_at FROM votes WHERE poll_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, pollID, clampLimit(limit))
}

// ListVotesByVoter returns the newest votes cast by voter.
func (s *Store) ListVotesByVoter(ctx context.Context, voter string, limit int) ([]polls.Vote, error) {
	return s.queryVotes(ctx,
		`SELECT id, poll_id, option_id, is_valid, voter, created_at FROM votes WHERE voter = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, voter, clampLimit(limit))
}

func (s *Store) queryVotes(ctx context.Context, query string, args ...any) ([]polls.Vote, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query votes: %w", err)
	}
	defer rows.Close()

	out := []polls.Vote{}
	for rows.Next() {
		var v polls.Vote
		var created int64
		if err := rows.Scan(&v.ID, &v.PollID, &v.OptionID, &v.IsValid, &v.Voter, &created); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.CreatedAt = fromMillis(created)
		out = append(out, v)
	}
	return out, rows.Err()
}
