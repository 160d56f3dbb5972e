// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/codepr/graderd/model"
)

var (
	bucketQueue    = []byte("queue")
	bucketFinished = []byte("finished")
	bucketTests    = []byte("tests")
	bucketRepos    = []byte("repos")
	bucketSeq      = []byte("seq")
)

// ErrDuplicateTask is returned by QueueTask when a WorkItem with the
// same id is already queued, enforcing spec.md §3's "at most one
// WorkItem with a given id" invariant at the storage layer.
var ErrDuplicateTask = errors.New("task already queued")

// GradingConfig is the part of the environment BoltStore serves
// straight from memory rather than the database: the shared build
// recipe every queued task uses.
type GradingConfig struct {
	Image        model.ImageId
	BuildCommand []string
	BuildTimeout time.Duration
}

// BoltStore is the storage collaborator, backed by a single embedded
// bbolt database file. Every write is a single bbolt transaction, so
// "finished tasks are written atomically" holds by construction.
type BoltStore struct {
	db     *bolt.DB
	config GradingConfig
}

// Open opens (creating if absent) a bbolt database at path and ensures
// its buckets exist.
func Open(path string, config GradingConfig) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening bolt database %q", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketQueue, bucketFinished, bucketTests, bucketRepos, bucketSeq} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "creating bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, config: config}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// queueKey orders queue entries by insertion: an 8-byte big-endian
// sequence number (so bbolt's natural byte-ordered iteration is
// insertion order) followed by the task id, which FetchQueuedTask and
// RemoveQueuedTask need to address an entry directly. A side index
// (task id -> full key) makes id-keyed lookups and deletes cheap
// without a bucket scan.
func queueKey(seq uint64, id model.TaskId) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key, seq)
	copy(key[8:], id)
	return key
}

func (s *BoltStore) QueueTask(ctx context.Context, item model.WorkItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		idIndex := tx.Bucket(bucketQueue).Bucket([]byte("by-id"))
		if idIndex == nil {
			var err error
			idIndex, err = tx.Bucket(bucketQueue).CreateBucket([]byte("by-id"))
			if err != nil {
				return err
			}
		}
		if idIndex.Get([]byte(item.Id)) != nil {
			return errors.Wrapf(ErrDuplicateTask, "task %q", item.Id)
		}

		seq, err := tx.Bucket(bucketQueue).NextSequence()
		if err != nil {
			return errors.Wrap(err, "allocating queue sequence")
		}
		key := queueKey(seq, item.Id)

		encoded, err := json.Marshal(item)
		if err != nil {
			return errors.Wrap(err, "encoding work item")
		}
		if err := tx.Bucket(bucketQueue).Put(key, encoded); err != nil {
			return err
		}
		return idIndex.Put([]byte(item.Id), key)
	})
}

func (s *BoltStore) RemoveQueuedTask(ctx context.Context, id model.TaskId) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		idIndex := tx.Bucket(bucketQueue).Bucket([]byte("by-id"))
		if idIndex == nil {
			return nil
		}
		key := idIndex.Get([]byte(id))
		if key == nil {
			return nil
		}
		if err := tx.Bucket(bucketQueue).Delete(key); err != nil {
			return err
		}
		return idIndex.Delete([]byte(id))
	})
}

func (s *BoltStore) GetQueuedTasks(ctx context.Context) ([]model.WorkItem, error) {
	var items []model.WorkItem
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketQueue).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v == nil {
				continue // nested "by-id" bucket, not a value entry
			}
			var item model.WorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return errors.Wrap(err, "decoding queued work item")
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

func (s *BoltStore) FetchQueuedTask(ctx context.Context, id model.TaskId) (model.WorkItem, bool, error) {
	var item model.WorkItem
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		idIndex := tx.Bucket(bucketQueue).Bucket([]byte("by-id"))
		if idIndex == nil {
			return nil
		}
		key := idIndex.Get([]byte(id))
		if key == nil {
			return nil
		}
		v := tx.Bucket(bucketQueue).Get(key)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &item)
	})
	return item, found, err
}

func (s *BoltStore) AddFinishedTask(ctx context.Context, task model.FinishedCompilerTask) error {
	encoded, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "encoding finished task")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketFinished).Put([]byte(task.Info.TaskId), encoded); err != nil {
			return err
		}
		idIndex := tx.Bucket(bucketQueue).Bucket([]byte("by-id"))
		if idIndex == nil {
			return nil
		}
		key := idIndex.Get([]byte(task.Info.TaskId))
		if key == nil {
			return nil
		}
		if err := tx.Bucket(bucketQueue).Delete(key); err != nil {
			return err
		}
		return idIndex.Delete([]byte(task.Info.TaskId))
	})
}

func (s *BoltStore) GetTask(ctx context.Context, id model.TaskId) (model.FinishedCompilerTask, bool, error) {
	var task model.FinishedCompilerTask
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketFinished).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &task)
	})
	return task, found, err
}

func (s *BoltStore) GetRecentTasks(ctx context.Context, limit int) ([]model.FinishedCompilerTask, error) {
	var tasks []model.FinishedCompilerTask
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFinished).Cursor()
		for k, v := c.Last(); k != nil && len(tasks) < limit; k, v = c.Prev() {
			var task model.FinishedCompilerTask
			if err := json.Unmarshal(v, &task); err != nil {
				return errors.Wrap(err, "decoding finished task")
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	return tasks, err
}

func (s *BoltStore) AddTest(ctx context.Context, test model.CompilerTest) error {
	encoded, err := json.Marshal(test)
	if err != nil {
		return errors.Wrap(err, "encoding test")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTests).Put([]byte(test.TestId), encoded)
	})
}

func (s *BoltStore) GetTests(ctx context.Context) ([]model.CompilerTest, error) {
	var tests []model.CompilerTest
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTests).ForEach(func(_, v []byte) error {
			var test model.CompilerTest
			if err := json.Unmarshal(v, &test); err != nil {
				return errors.Wrap(err, "decoding test")
			}
			tests = append(tests, test)
			return nil
		})
	})
	return tests, err
}

func (s *BoltStore) GetRepo(ctx context.Context, team model.TeamId) (string, bool, error) {
	var path string
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRepos).Get([]byte(team))
		if v == nil {
			return nil
		}
		found = true
		path = string(v)
		return nil
	})
	return path, found, err
}

func (s *BoltStore) SetRepo(ctx context.Context, team model.TeamId, repoPath string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepos).Put([]byte(team), []byte(repoPath))
	})
}

func (s *BoltStore) BuildImage() model.ImageId      { return s.config.Image }
func (s *BoltStore) BuildCommand() []string         { return s.config.BuildCommand }
func (s *BoltStore) BuildTimeout() time.Duration    { return s.config.BuildTimeout }
