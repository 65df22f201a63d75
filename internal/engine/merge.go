package engine

import (
	"context"
	"fmt"

	"github.com/pacekit/syncd/internal/conflict"
	"github.com/pacekit/syncd/internal/entity"
	"github.com/pacekit/syncd/pkg/log"
)

// MergeRead returns the owner's records of one entity type as the caller
// should see them: the remote view overlaid with pending local mutations,
// with recently deleted entities suppressed and conflicts resolved.
func (e *Engine) MergeRead(ctx context.Context, entityType entity.Type, ownerID string) ([]map[string]interface{}, error) {
	remoteDocs, err := e.remote.Fetch(ctx, entityType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("fetch remote view: %w", err)
	}

	deletedIDs, err := e.tomb.RecentlyDeletedIDs(ownerID)
	if err != nil {
		e.logger.Warn("tombstone lookup degraded during merge", log.Err(err))
		deletedIDs = nil
	}
	deleted := make(map[string]struct{}, len(deletedIDs))
	for _, id := range deletedIDs {
		deleted[id] = struct{}{}
	}

	pending, err := e.Queue(ownerID)
	if err != nil {
		return nil, err
	}
	localByID := make(map[string]map[string]interface{})
	var localOnly []map[string]interface{}
	for i := range pending {
		if pending[i].EntityType() != entityType {
			continue
		}
		localID := localEntityID(pending[i].Payload)
		if _, gone := deleted[localID]; gone {
			continue
		}
		doc := entity.ToMap(pending[i].Payload)
		if pending[i].RemoteID != "" {
			localByID[pending[i].RemoteID] = doc
		} else {
			localOnly = append(localOnly, doc)
		}
	}

	merged := make([]map[string]interface{}, 0, len(remoteDocs)+len(localOnly))
	for _, rdoc := range remoteDocs {
		if e.suppressed(rdoc, deleted) {
			continue
		}
		remoteID, _ := rdoc["id"].(string)
		local, pendingLocal := localByID[remoteID]
		if !pendingLocal {
			merged = append(merged, rdoc)
			continue
		}
		delete(localByID, remoteID)
		ctype := e.detect.Classify(local, rdoc, entityType)
		if ctype == conflict.None {
			// Pending local change, no divergence: the local copy wins.
			merged = append(merged, local)
			continue
		}
		merged = append(merged, e.resolve.Resolve(local, rdoc, conflict.Context{
			ConflictType: ctype,
			EntityType:   entityType,
		}))
	}
	// Anything still keyed locally targets a remote record this fetch did
	// not return; surface the local copy rather than losing it.
	for _, doc := range localByID {
		merged = append(merged, doc)
	}
	merged = append(merged, localOnly...)
	return merged, nil
}

// suppressed reports whether a remote document refers to a recently deleted
// entity, either by its remote ID, its mapped local ID, or its natural key.
func (e *Engine) suppressed(doc map[string]interface{}, deleted map[string]struct{}) bool {
	if len(deleted) == 0 {
		return false
	}
	if remoteID, ok := doc["id"].(string); ok && remoteID != "" {
		if _, gone := deleted[remoteID]; gone {
			return true
		}
		if localID, found, _ := e.idmap.LocalFor(remoteID); found {
			if _, gone := deleted[localID]; gone {
				return true
			}
		}
	}
	for _, field := range []string{"eventId", "noteId", "code"} {
		if v, ok := doc[field].(string); ok && v != "" {
			if _, gone := deleted[v]; gone {
				return true
			}
		}
	}
	return false
}
