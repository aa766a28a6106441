package registry

import (
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"scanasha/internal/httpx"
	"scanasha/internal/logging"
	"scanasha/internal/polls"
)

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	var draft polls.Draft
	if err := httpx.DecodeJSON(r, &draft); err != nil {
		writeError(w, err)
		return
	}
	if err := polls.ValidateDraft(draft); err != nil {
		writeError(w, err)
		return
	}

	p, err := s.store.CreatePoll(r.Context(), polls.Poll{
		Title:       draft.Title,
		Description: draft.Description,
		Author:      SessionFrom(r.Context()).DID,
		Options:     polls.NewOptions(draft.Options),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	logging.Registry("poll %s created by %s", p.ID, p.Author)
	writeData(w, http.StatusCreated, p)
}

func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListPolls(r.Context(), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleAccountPolls(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListPollsByAuthor(r.Context(), mux.Vars(r)["did"], limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPoll(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	votes, err := s.store.ListVotesByPoll(r.Context(), p.ID, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, polls.Tally(p, votes))
}

// handlePollsWithVotes loads the newest polls and their votes. Vote queries
// run concurrently; a poll whose votes fail keeps an empty tally and an error.
func (s *Server) handlePollsWithVotes(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListPolls(r.Context(), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]polls.PollWithVotes, len(list))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(s.pollFanout)
	for i, p := range list {
		g.Go(func() error {
			votes, err := s.store.ListVotesByPoll(ctx, p.ID, 0)
			if err != nil {
				logging.RegistryWarn("votes for poll %s: %v", p.ID, err)
				out[i] = polls.Tally(p, nil)
				out[i].Error = err.Error()
				return nil
			}
			out[i] = polls.Tally(p, votes)
			return nil
		})
	}
	_ = g.Wait()
	writeData(w, http.StatusOK, out)
}

type voteRequest struct {
	OptionID string `json:"optionID"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := s.store.CreateVote(r.Context(), polls.Vote{
		PollID:   mux.Vars(r)["id"],
		OptionID: req.OptionID,
		Voter:    SessionFrom(r.Context()).DID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, v)
}

func (s *Server) handleAccountVotes(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListVotesByVoter(r.Context(), mux.Vars(r)["did"], limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}
