// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/rollupvm/modules"
	"github.com/ava-labs/rollupvm/state"
)

const Name = "election"

var (
	ErrNotAdmin          = errors.New("sender is not the admin")
	ErrCandidatesSet     = errors.New("candidates already set")
	ErrNoCandidates      = errors.New("no candidates")
	ErrUnknownCandidate  = errors.New("unknown candidate")
	ErrVoterExists       = errors.New("voter already added")
	ErrNotVoter          = errors.New("sender is not an allowed voter")
	ErrAlreadyVoted      = errors.New("voter already voted")
	ErrFrozen            = errors.New("election is frozen")
	ErrNotFrozen         = errors.New("election is not frozen")
	errNoAdminConfigured = errors.New("admin is not set")
)

type Candidate struct {
	Name  string `serialize:"true" json:"name"`
	Count uint32 `serialize:"true" json:"count"`
}

type Config struct {
	Admin ids.ShortID `json:"admin" mapstructure:"admin"`
}

// Election is a single admin-run election. Voters are allowed one vote.
type Election struct {
	admin      state.StateValue[ids.ShortID]
	candidates state.StateVec[Candidate]
	// voters maps an allowed voter to whether it voted.
	voters state.StateMap[ids.ShortID, bool]
	frozen state.StateValue[bool]
	winner state.StateValue[Candidate]
}

func New() *Election {
	p := modules.Prefix(Name)
	return &Election{
		admin:      state.NewStateValue[ids.ShortID](p.Field("admin"), state.LinearCodec[ids.ShortID]{}),
		candidates: state.NewStateVec[Candidate](p.Field("candidates"), state.LinearCodec[Candidate]{}),
		voters:     state.NewStateMap[ids.ShortID, bool](p.Field("voters"), state.LinearCodec[ids.ShortID]{}, state.LinearCodec[bool]{}),
		frozen:     state.NewStateValue[bool](p.Field("frozen"), state.LinearCodec[bool]{}),
		winner:     state.NewStateValue[Candidate](p.Field("winner"), state.LinearCodec[Candidate]{}),
	}
}

func (e *Election) Genesis(cfg Config, ws *state.WorkingSet) error {
	if cfg.Admin == ids.ShortEmpty {
		return errNoAdminConfigured
	}
	return e.admin.Set(ws, cfg.Admin)
}

type SetCandidates struct {
	Names []string `serialize:"true" json:"names"`
}

type AddVoter struct {
	Voter ids.ShortID `serialize:"true" json:"voter"`
}

type Vote struct {
	Candidate uint32 `serialize:"true" json:"candidate"`
}

type FreezeElection struct{}

func (*SetCandidates) Module() string  { return Name }
func (*AddVoter) Module() string       { return Name }
func (*Vote) Module() string           { return Name }
func (*FreezeElection) Module() string { return Name }

func (e *Election) checkAdmin(ws *state.WorkingSet, sender ids.ShortID) error {
	admin, err := e.admin.GetOrErr(ws)
	if err != nil {
		return err
	}
	if admin != sender {
		return fmt.Errorf("%w: %s", ErrNotAdmin, sender)
	}
	return nil
}

func (e *Election) checkNotFrozen(ws *state.WorkingSet) error {
	frozen, _, err := e.frozen.Get(ws)
	if err != nil {
		return err
	}
	if frozen {
		return ErrFrozen
	}
	return nil
}

func (e *Election) SetCandidates(ws *state.WorkingSet, sender ids.ShortID, msg *SetCandidates) error {
	if err := e.checkAdmin(ws, sender); err != nil {
		return err
	}
	if err := e.checkNotFrozen(ws); err != nil {
		return err
	}
	n, err := e.candidates.Len(ws)
	if err != nil {
		return err
	}
	if n != 0 {
		return ErrCandidatesSet
	}
	if len(msg.Names) == 0 {
		return ErrNoCandidates
	}
	for _, name := range msg.Names {
		if err := e.candidates.Push(ws, Candidate{Name: name}); err != nil {
			return err
		}
	}
	ws.AddEvent("election/candidates_set", nil)
	return nil
}

func (e *Election) AddVoter(ws *state.WorkingSet, sender ids.ShortID, msg *AddVoter) error {
	if err := e.checkAdmin(ws, sender); err != nil {
		return err
	}
	if err := e.checkNotFrozen(ws); err != nil {
		return err
	}
	if _, ok, err := e.voters.Get(ws, msg.Voter); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrVoterExists, msg.Voter)
	}
	if err := e.voters.Set(ws, msg.Voter, false); err != nil {
		return err
	}
	ws.AddEvent("election/voter_added", msg.Voter[:])
	return nil
}

func (e *Election) Vote(ws *state.WorkingSet, sender ids.ShortID, msg *Vote) error {
	if err := e.checkNotFrozen(ws); err != nil {
		return err
	}
	voted, ok, err := e.voters.Get(ws, sender)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotVoter, sender)
	}
	if voted {
		return fmt.Errorf("%w: %s", ErrAlreadyVoted, sender)
	}

	n, err := e.candidates.Len(ws)
	if err != nil {
		return err
	}
	if uint64(msg.Candidate) >= n {
		return fmt.Errorf("%w: %d", ErrUnknownCandidate, msg.Candidate)
	}
	c, err := e.candidates.Get(ws, uint64(msg.Candidate))
	if err != nil {
		return err
	}
	c.Count++
	if err := e.candidates.Set(ws, uint64(msg.Candidate), c); err != nil {
		return err
	}
	if err := e.voters.Set(ws, sender, true); err != nil {
		return err
	}
	ws.AddEvent("election/voted", sender[:])
	return nil
}

// FreezeElection closes the election and records the candidate with the
// most votes, the earliest one on a tie.
func (e *Election) FreezeElection(ws *state.WorkingSet, sender ids.ShortID, _ *FreezeElection) error {
	if err := e.checkAdmin(ws, sender); err != nil {
		return err
	}
	if err := e.checkNotFrozen(ws); err != nil {
		return err
	}
	n, err := e.candidates.Len(ws)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoCandidates
	}
	var winner Candidate
	for i := uint64(0); i < n; i++ {
		c, err := e.candidates.Get(ws, i)
		if err != nil {
			return err
		}
		if i == 0 || c.Count > winner.Count {
			winner = c
		}
	}
	if err := e.winner.Set(ws, winner); err != nil {
		return err
	}
	if err := e.frozen.Set(ws, true); err != nil {
		return err
	}
	ws.AddEvent("election/frozen", []byte(winner.Name))
	return nil
}

// Result returns the winner once the election is frozen.
func (e *Election) Result(ws *state.WorkingSet) (Candidate, error) {
	frozen, _, err := e.frozen.Get(ws)
	if err != nil {
		return Candidate{}, err
	}
	if !frozen {
		return Candidate{}, ErrNotFrozen
	}
	return e.winner.GetOrErr(ws)
}

func (e *Election) Candidates(ws *state.WorkingSet) ([]Candidate, error) {
	n, err := e.candidates.Len(ws)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, n)
	for i := uint64(0); i < n; i++ {
		c, err := e.candidates.Get(ws, i)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
