package node

import (
	"context"
	"fmt"

	"github.com/weftdb/weft/internal/codec"
	"github.com/weftdb/weft/internal/publish"
	"github.com/weftdb/weft/internal/store"
	"github.com/weftdb/weft/internal/wid"
)

// Author signs and encodes one operation as this node's own identity, then
// runs it through PublishLocal exactly as a replicated entry would be.
// previous is empty for a CREATE action.
func (n *Node) Author(ctx context.Context, action store.Action, schemaID wid.SchemaId, fields store.OperationFields, previous wid.DocumentViewId) (*publish.Result, error) {
	encodedOp, err := codec.EncodeOperation(fields, action, schemaID, previous)
	if err != nil {
		return nil, fmt.Errorf("node: encode operation: %w", err)
	}

	logID, seqNum, backlink, skiplink, err := n.nextSignArgs(ctx, action, previous)
	if err != nil {
		return nil, err
	}

	encodedEntry, _, err := codec.SignEntry(n.PrivateKey, logID, seqNum, backlink, skiplink, encodedOp)
	if err != nil {
		return nil, fmt.Errorf("node: sign entry: %w", err)
	}

	return n.PublishLocal(ctx, encodedEntry, encodedOp)
}

// nextSignArgs resolves the (log_id, seq_num, backlink, skiplink) an author
// needs before signing: a CREATE has no prior document to key NextArgsFor
// off of, so it starts the author's next log fresh; anything else resolves
// the document its previous operations belong to and asks NextArgsFor for it.
func (n *Node) nextSignArgs(ctx context.Context, action store.Action, previous wid.DocumentViewId) (wid.LogId, wid.SeqNum, wid.Hash, wid.Hash, error) {
	if action == store.ActionCreate {
		logID, err := n.Store.NextLogId(ctx, n.PublicKey)
		if err != nil {
			return 0, 0, "", "", fmt.Errorf("node: next log id: %w", err)
		}
		return logID, 1, "", "", nil
	}

	if len(previous) == 0 {
		return 0, 0, "", "", fmt.Errorf("node: non-CREATE operation must carry previous")
	}
	prevOp, err := n.Store.GetOperation(ctx, previous[0])
	if err != nil {
		return 0, 0, "", "", fmt.Errorf("node: resolve previous operation: %w", err)
	}
	next, err := n.NextArgs(ctx, prevOp.DocumentId)
	if err != nil {
		return 0, 0, "", "", fmt.Errorf("node: next args: %w", err)
	}
	return next.LogId, next.SeqNum, next.Backlink, next.Skiplink, nil
}
