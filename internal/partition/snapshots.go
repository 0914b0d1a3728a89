package partition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/tapestore/internal/model"
	"github.com/roach88/tapestore/internal/objstore"
	"github.com/roach88/tapestore/internal/schema"
)

// LoadSnapshot returns the snapshot of streamID. The bool is false when no
// snapshot is stored; that is not an error.
func (p *Partition) LoadSnapshot(ctx context.Context, streamID string) (model.Snapshot, bool, error) {
	const op = "loadSnapshot"
	db, err := p.handle(op)
	if err != nil {
		return model.Snapshot{}, false, err
	}
	var snap model.Snapshot
	err = db.View(ctx, []string{schema.Snapshots}, func(tx *objstore.Tx) error {
		snapshots, err := tx.Store(schema.Snapshots)
		if err != nil {
			return err
		}
		return snapshots.Get(streamID, &snap)
	})
	if errors.Is(err, objstore.ErrNotFound) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, p.storageError(op, streamID, "", err)
	}
	return snap, true, nil
}

// StoreSnapshot replaces the snapshot of streamID.
func (p *Partition) StoreSnapshot(ctx context.Context, streamID string, snapshot json.RawMessage, version int) (model.Snapshot, error) {
	const op = "storeSnapshot"
	snap := model.Snapshot{StreamID: streamID, Version: version, Snapshot: snapshot}
	if err := p.putSnapshots(ctx, op, []model.Snapshot{snap}); err != nil {
		return model.Snapshot{}, err
	}
	p.logger.Debug("snapshot stored", "stream", streamID, "version", version)
	return snap, nil
}

// StoreSnapshotsBulk replaces several snapshots in one transaction. Either all
// are written or none.
func (p *Partition) StoreSnapshotsBulk(ctx context.Context, snapshots []model.Snapshot) error {
	if err := p.putSnapshots(ctx, "storeSnapshotsBulk", snapshots); err != nil {
		return err
	}
	p.logger.Debug("snapshots stored", "count", len(snapshots))
	return nil
}

func (p *Partition) putSnapshots(ctx context.Context, op string, snaps []model.Snapshot) error {
	db, err := p.handle(op)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		if s.StreamID == "" {
			return &Error{Kind: KindInvalid, Op: op, PartitionID: p.id, Err: errors.New("snapshot stream id is required")}
		}
	}
	err = db.Update(ctx, []string{schema.Snapshots}, func(tx *objstore.Tx) error {
		store, err := tx.Store(schema.Snapshots)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			if _, err := store.Put(s); err != nil {
				return fmt.Errorf("snapshot %s: %w", s.StreamID, err)
			}
		}
		return nil
	})
	if err != nil {
		return p.storageError(op, "", "", err)
	}
	return nil
}

// RemoveSnapshots deletes the snapshots of streamIDs. Missing snapshots are
// ignored.
func (p *Partition) RemoveSnapshots(ctx context.Context, streamIDs ...string) error {
	const op = "removeSnapshots"
	db, err := p.handle(op)
	if err != nil {
		return err
	}
	err = db.Update(ctx, []string{schema.Snapshots}, func(tx *objstore.Tx) error {
		store, err := tx.Store(schema.Snapshots)
		if err != nil {
			return err
		}
		for _, id := range streamIDs {
			if err := store.Delete(id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return p.storageError(op, "", "", err)
	}
	p.logger.Debug("snapshots removed", "count", len(streamIDs))
	return nil
}
