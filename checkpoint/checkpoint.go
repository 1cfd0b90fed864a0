// Package checkpoint implements the Checkpoint Store (C2): a persistent
// thread_id -> serialized state snapshot map, backed by an embedded
// transactional store (go.etcd.io/bbolt), replacing the teacher's
// pluginapi.Client.KV since this engine has no Mattermost server host. See
// DESIGN.md for the full grounding and dependency-swap justification.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/nickmisasi/governance-engine/logging"
	"github.com/nickmisasi/governance-engine/node"
)

// bucketName is the single bbolt bucket holding every thread_id -> state
// snapshot for a given stage's database file. One database file per stage
// per repository, per spec §4.2's key format "<external_id>-<stage>" (the
// stage is already encoded in the file name, so the bucket itself need not
// shard by stage again).
var bucketName = []byte("checkpoints")

// Store is the persistence contract the graph engine relies on. A reader
// given a thread id either sees the most recent complete snapshot or no
// snapshot at all — bbolt's single-writer MVCC transactions give this for
// free, satisfying spec §4.2's "never a torn write" guarantee.
type Store interface {
	// Save durably persists state under threadID. Called by the graph engine
	// at every node boundary, before control returns to the caller.
	Save(threadID string, state node.State) error
	// Load returns the most recent snapshot for threadID, or ok=false if none
	// exists yet (a fresh instance).
	Load(threadID string) (state node.State, ok bool, err error)
	// Delete removes the snapshot, used once a stage's handoff has
	// irreversibly committed and the checkpoint is no longer resumable.
	Delete(threadID string) error
	Close() error
}

// BoltStore is the production Store implementation.
type BoltStore struct {
	db     *bbolt.DB
	logger logging.Logger
}

// ResolvePath implements the priority rule from spec §4.2:
//  1. envOverride, if non-empty (e.g. $GOVERNANCE_CHECKPOINT_STORE).
//  2. <repoRoot>/.governance/<stage>_workflow.db, if repoRoot is non-empty.
//  3. A legacy per-user directory (~/.governance/<stage>_workflow.db).
func ResolvePath(stage node.Stage, repoRoot, envOverride string) (string, error) {
	if envOverride != "" {
		return envOverride, nil
	}
	if repoRoot != "" {
		return filepath.Join(repoRoot, ".governance", string(stage)+"_workflow.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve legacy checkpoint directory")
	}
	return filepath.Join(home, ".governance", string(stage)+"_workflow.db"), nil
}

// Open creates or opens the bbolt database at path, ensuring its parent
// directory and the checkpoints bucket both exist.
func Open(path string, logger logging.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create checkpoint store directory for %s", path)
	}
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open checkpoint store %s", path)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initialize checkpoint bucket")
	}
	logger.Debug("checkpoint store opened", "path", path)
	return &BoltStore{db: db, logger: logger}, nil
}

// Save persists state under threadID, stamping a stable InstanceID on the
// instance's first save. ThreadID is reused across resumed or re-filed
// runs sharing an external id; InstanceID is generated once and never
// changes again for the lifetime of the instance.
func (s *BoltStore) Save(threadID string, state node.State) error {
	if state.InstanceID == "" {
		state.InstanceID = uuid.New().String()
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return errors.Wrapf(err, "marshal checkpoint state for %s", threadID)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(threadID), payload)
	})
	if err != nil {
		return errors.Wrapf(err, "save checkpoint for %s", threadID)
	}
	s.logger.Debug("checkpoint saved", "thread_id", threadID, "next_node", state.NextNode)
	return nil
}

func (s *BoltStore) Load(threadID string) (node.State, bool, error) {
	var state node.State
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(threadID))
		if raw == nil {
			return nil
		}
		found = true
		// Copy out of the mmap'd page before the transaction ends.
		buf := append([]byte(nil), raw...)
		return json.Unmarshal(buf, &state)
	})
	if err != nil {
		return node.State{}, false, errors.Wrapf(err, "load checkpoint for %s", threadID)
	}
	return state, found, nil
}

func (s *BoltStore) Delete(threadID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(threadID))
	})
	if err != nil {
		return errors.Wrapf(err, "delete checkpoint for %s", threadID)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
