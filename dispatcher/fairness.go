package dispatcher

import (
	"sort"
	"sync"

	"github.com/codepr/graderd/model"
)

// fairQueue turns a raw snapshot of queued WorkItems into the
// deterministic order GetWork consumes: teams round-robin, newest
// revision first within a team, with a cursor that advances across
// polls so no team is starved by another submitting rapidly. This has
// no counterpart in the reference implementation's plain unordered
// SELECT — it is this core's own fairness policy, grounded only in the
// shape of the teacher's existing round-robin runner pool
// (core/pool.go's ForwardToRunner, dispatcher/repostore.go's
// getRunner), generalised from "one queue, round robin over runners"
// to "one queue per team, round robin over teams".
type fairQueue struct {
	mu     sync.Mutex
	cursor string // team id the next poll should start from
}

func newFairQueue() *fairQueue {
	return &fairQueue{}
}

// Order groups items by team, sorts each team's items newest-first by
// InsertTime, lists teams in ascending id order, then round-robins:
// one item popped from each non-empty team in turn until all are
// empty. It advances the internal cursor to the team after the last
// one it started from, so repeated calls keep rotating fairly even
// when every call only consumes the first element of its result.
func (q *fairQueue) Order(items []model.WorkItem) []model.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	byTeam := make(map[model.TeamId][]model.WorkItem)
	for _, item := range items {
		byTeam[item.Team] = append(byTeam[item.Team], item)
	}

	teams := make([]model.TeamId, 0, len(byTeam))
	for team := range byTeam {
		teams = append(teams, team)
		bucket := byTeam[team]
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].InsertTime.After(bucket[j].InsertTime)
		})
		byTeam[team] = bucket
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i] < teams[j] })

	if len(teams) == 0 {
		return nil
	}

	start := 0
	for i, t := range teams {
		if string(t) == q.cursor {
			start = i
			break
		}
	}

	ordered := make([]model.WorkItem, 0, len(items))
	indices := make([]int, len(teams))
	remaining := len(items)
	for remaining > 0 {
		for offset := 0; offset < len(teams); offset++ {
			ti := (start + offset) % len(teams)
			team := teams[ti]
			bucket := byTeam[team]
			if indices[ti] >= len(bucket) {
				continue
			}
			ordered = append(ordered, bucket[indices[ti]])
			indices[ti]++
			remaining--
		}
	}

	q.cursor = string(teams[(start+1)%len(teams)])
	return ordered
}
