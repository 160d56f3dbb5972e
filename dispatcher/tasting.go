package dispatcher

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codepr/graderd/model"
)

const tastingExpiry = 5 * time.Minute

// openTestTaste is one candidate test waiting for a taste-runner to
// pick it up, or already claimed and awaiting its verdict. reply is
// closed exactly once, by finishTasting or by the expiry sweeper.
type openTestTaste struct {
	id         string
	task       model.TastingTask
	claimed    bool
	claimedBy  model.RunnerId
	insertedAt time.Time
	reply      chan model.ExecutionOutput
}

func (t *openTestTaste) expired(now time.Time) bool {
	return now.Sub(t.insertedAt) > tastingExpiry
}

// testTasting is the in-memory queue of candidate tests a test
// submission path blocks on while a taste-runner evaluates them
// against the reference compiler image, grounded in
// original_source/backend-web/src/types/test_tasting.rs.
type testTasting struct {
	mu      sync.Mutex
	open    []*openTestTaste
	claimed map[string]*openTestTaste
	seq     int
}

func newTestTasting() *testTasting {
	return &testTasting{claimed: make(map[string]*openTestTaste)}
}

// AddTasting enqueues test for tasting and returns a channel that
// receives exactly one ExecutionOutput once a taste-runner reports a
// result, or is closed without a value if the tasting expires first.
func (t *testTasting) AddTasting(image model.ImageId, test model.CompilerTest) <-chan model.ExecutionOutput {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	id := test.TestId.String() + "-" + strconv.Itoa(t.seq)
	taste := &openTestTaste{
		id:         id,
		task:       model.TastingTask{Id: id, Image: image, Test: test},
		insertedAt: time.Now(),
		reply:      make(chan model.ExecutionOutput, 1),
	}
	t.open = append(t.open, taste)
	return taste.reply
}

// PollTasting pops the oldest unclaimed candidate for a taste-runner,
// if any.
func (t *testTasting) PollTasting(runner model.RunnerId) *model.TastingTask {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.open) == 0 {
		return nil
	}
	taste := t.open[0]
	t.open = t.open[1:]
	taste.claimed = true
	taste.claimedBy = runner
	t.claimed[taste.id] = taste

	task := taste.task
	return &task
}

// FinishTasting delivers output to the tasting's waiter. A safe no-op
// if the tasting already expired or was never claimed.
func (t *testTasting) FinishTasting(id string, output model.ExecutionOutput) {
	t.mu.Lock()
	defer t.mu.Unlock()

	taste, ok := t.claimed[id]
	if !ok {
		return
	}
	delete(t.claimed, id)
	taste.reply <- output
	close(taste.reply)
}

// runSweeper removes tastings older than 5 minutes every 60s, closing
// their reply channels. Expiry is by age only: a tasting whose waiter
// has already given up stays queued until it ages out or is finished.
func (t *testTasting) runSweeper(stop <-chan struct{}, log zerolog.Logger) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.sweep(log)
		}
	}
}

func (t *testTasting) sweep(log zerolog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()

	keptOpen := t.open[:0]
	for _, taste := range t.open {
		if taste.expired(now) {
			close(taste.reply)
			log.Debug().Str("tasting_id", taste.id).Msg("expiring unclaimed test tasting")
			continue
		}
		keptOpen = append(keptOpen, taste)
	}
	t.open = keptOpen

	for id, taste := range t.claimed {
		if taste.expired(now) {
			close(taste.reply)
			delete(t.claimed, id)
			log.Debug().Str("tasting_id", id).Msg("expiring in-progress test tasting")
		}
	}
}
