package contacts

import (
	"context"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// DefaultMatchFloor is the similarity (0..100) a contact label must reach to
// resolve without asking the user.
const DefaultMatchFloor = 80

// candidateBand widens the floor downward when collecting clarification
// candidates: near misses are worth offering even when no label clears the
// floor outright.
const candidateBand = 10

// Candidate is one fuzzy-match candidate offered back to the user.
type Candidate struct {
	Label      string  `json:"label"`
	AccountNum string  `json:"account_num"`
	Similarity float64 `json:"similarity"`
}

// Resolution is the outcome of resolving a spoken name.
type Resolution struct {
	// Exactly one of Match / Candidates is populated, or neither when
	// nothing came close.
	Match      *Candidate
	Candidates []Candidate
}

// Resolve fuzzy-matches the spoken name against the user's contact labels.
// A single label at or above the floor wins; several labels within the
// candidate band produce a candidate list for clarification.
func (c *Client) Resolve(ctx context.Context, token, username, name string, floor int) (*Resolution, error) {
	if floor <= 0 {
		floor = DefaultMatchFloor
	}
	list, err := c.List(ctx, token, username)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, contact := range list {
		sim := Similarity(name, contact.Label)
		if sim >= float64(floor-candidateBand) {
			candidates = append(candidates, Candidate{
				Label:      contact.Label,
				AccountNum: contact.AccountNum,
				Similarity: sim,
			})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	var cleared []Candidate
	for _, cand := range candidates {
		if cand.Similarity >= float64(floor) {
			cleared = append(cleared, cand)
		}
	}

	switch {
	case len(cleared) == 1:
		return &Resolution{Match: &cleared[0]}, nil
	case len(cleared) > 1:
		return &Resolution{Candidates: cleared}, nil
	case len(candidates) > 0:
		return &Resolution{Candidates: candidates}, nil
	}
	return &Resolution{}, nil
}

// Similarity returns a 0..100 score of how closely two names match,
// case-insensitive, based on normalized Levenshtein distance.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(dist)/float64(longest))
}
