// Package steward implements StewardIndexer (§4.4): tailing the
// steward program's log events and persisting them as steward_events
// rows.
package steward

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/jito-foundation/kobe/internal/model"
	"github.com/jito-foundation/kobe/internal/rpc"
	"github.com/jito-foundation/kobe/internal/store"
)

var logger = log15.New("pkg", "steward")

// DefaultSlotsPerEpoch mirrors epochwriter.DefaultSlotsPerEpoch for the
// epoch-derivation fallback of §4.4, kept local to avoid an import
// cycle with internal/epochwriter.
const DefaultSlotsPerEpoch = 432000

const listenPageSize = 1000

// eventLogPrefix marks a steward program log line as a decodable event:
// "Program log: JITO-STEWARD-EVENT:<EventType>:<json payload>".
const eventLogPrefix = "Program log: JITO-STEWARD-EVENT:"

// Gateway is the subset of ChainGateway the indexer needs: paging
// signatures bounded by before/until, and fetching a confirmed
// transaction. Giving the before/until paging contract (§4.4) a concrete
// seam lets it be tested without a live RPC endpoint; *rpc.ChainGateway
// satisfies this directly.
type Gateway interface {
	GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, before, until *solana.Signature, pageSize int) ([]rpc.SignatureInfo, error)
	GetTransaction(ctx context.Context, sig solana.Signature) (*solanarpc.GetTransactionResult, error)
}

// Indexer is StewardIndexer.
type Indexer struct {
	Gateway        Gateway
	Store          *store.Store
	StewardProgram solana.PublicKey
	StakePool      solana.PublicKey
}

// cursor is the persisted listen-mode resume point.
type cursor struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
}

// ListenTick implements one iteration of §4.4's listen mode: read the
// cursor, page backward from the program's latest signature down to
// (excluding) the cursor signature in pages of 1000, process each page
// chronologically, and advance the cursor to the oldest signature of
// each page.
// Callers are expected to invoke this every 5 minutes.
func (ix *Indexer) ListenTick(ctx context.Context) error {
	var c cursor
	hasCursor, err := ix.Store.Get(store.CollectionStewardCursor, store.StewardCursorKey, &c)
	if err != nil {
		return errors.Wrap(err, "steward: read cursor")
	}

	var until *solana.Signature
	var before *solana.Signature
	if hasCursor {
		sig, err := solana.SignatureFromBase58(c.Signature)
		if err != nil {
			return errors.Wrap(err, "steward: decode cursor signature")
		}
		until = &sig
	}

	for {
		infos, err := ix.Gateway.GetSignaturesForAddress(ctx, ix.StewardProgram, before, until, listenPageSize)
		if err != nil {
			return errors.Wrap(err, "steward: fetch signatures")
		}
		if len(infos) == 0 {
			return nil
		}
		if err := ix.processChronological(ctx, infos); err != nil {
			return err
		}
		oldest := infos[len(infos)-1]
		if err := ix.Store.Put(store.CollectionStewardCursor, store.StewardCursorKey, cursor{
			Signature: oldest.Signature.String(),
			Slot:      oldest.Slot,
		}, nil); err != nil {
			return errors.Wrap(err, "steward: advance cursor")
		}
		if len(infos) < listenPageSize {
			return nil
		}
		before = &oldest.Signature
	}
}

// Backfill implements §4.4's backfill mode: page backward from the
// program's most recent signature until a signature's slot drops below
// startSlot, dropping anything above endSlot, and process the
// remainder chronologically.
func (ix *Indexer) Backfill(ctx context.Context, startSlot, endSlot uint64) error {
	var before *solana.Signature
	var inRange []rpc.SignatureInfo

	for {
		infos, err := ix.Gateway.GetSignaturesForAddress(ctx, ix.StewardProgram, before, nil, listenPageSize)
		if err != nil {
			return errors.Wrap(err, "steward: fetch signatures")
		}
		if len(infos) == 0 {
			break
		}

		done := false
		for _, info := range infos {
			if info.Slot < startSlot {
				done = true
				break
			}
			if info.Slot > endSlot {
				continue
			}
			inRange = append(inRange, info)
		}
		if done || len(infos) < listenPageSize {
			break
		}
		last := infos[len(infos)-1]
		before = &last.Signature
	}

	return ix.processChronological(ctx, inRange)
}

// processChronological reverses infos (which arrive newest-first from
// getSignaturesForAddress) and decodes+persists each transaction.
func (ix *Indexer) processChronological(ctx context.Context, infos []rpc.SignatureInfo) error {
	for i := len(infos) - 1; i >= 0; i-- {
		if err := ix.processOne(ctx, infos[i]); err != nil {
			logger.Warn("skipping transaction, decode or fetch failed", "signature", infos[i].Signature, "err", err)
		}
	}
	return nil
}

func (ix *Indexer) processOne(ctx context.Context, info rpc.SignatureInfo) error {
	tx, err := ix.Gateway.GetTransaction(ctx, info.Signature)
	if err != nil {
		return errors.Wrap(err, "fetch transaction")
	}
	if tx == nil || tx.Meta == nil {
		return errors.New("transaction or meta missing")
	}

	decoded, err := tx.Transaction.GetTransaction()
	if err != nil {
		return errors.Wrap(err, "decode transaction envelope")
	}
	var signer string
	if len(decoded.Message.AccountKeys) > 0 {
		signer = decoded.Message.AccountKeys[0].String()
	}

	var txErr *string
	if tx.Meta.Err != nil {
		s := "transaction failed"
		txErr = &s
	}

	events := decodeLogEvents(tx.Meta.LogMessages)
	if len(events) == 0 {
		return nil
	}

	items := make([]store.BulkItem, 0, len(events))
	for idx, ev := range events {
		epoch := ev.Epoch
		if epoch == 0 {
			epoch = info.Slot / DefaultSlotsPerEpoch
		}
		row := model.StewardEvent{
			Signature:      info.Signature.String(),
			InstructionIdx: uint32(idx),
			EventType:      ev.Type,
			VoteAccount:    ev.VoteAccount,
			Signer:         signer,
			StakePool:      ix.StakePool.String(),
			Epoch:          epoch,
			Slot:           info.Slot,
			Metadata:       ev.Metadata,
			TxError:        txErr,
			Timestamp:      time.Now().UTC(),
		}
		items = append(items, store.BulkItem{
			Key: store.StewardEventKey(row.Signature, string(row.EventType), row.VoteAccount),
			Doc: row,
			Indexes: map[string]string{
				store.IndexBySlot: store.SlotIndexValue(row.Slot),
			},
		})
	}
	return ix.Store.BulkPut(store.CollectionStewardEvents, items, 100, func() { time.Sleep(25 * time.Millisecond) })
}

// decodedEvent is one log-decoded steward event before epoch
// derivation/persistence.
type decodedEvent struct {
	Type        model.StewardEventType
	VoteAccount string
	Epoch       uint64
	Metadata    map[string]any
}

var knownEventTypes = map[string]model.StewardEventType{
	string(model.EventScoreComponents):            model.EventScoreComponents,
	string(model.EventScoreComponentsV3):          model.EventScoreComponentsV3,
	string(model.EventScoreComponentsV4):          model.EventScoreComponentsV4,
	string(model.EventInstantUnstakeComponents):   model.EventInstantUnstakeComponents,
	string(model.EventInstantUnstakeComponentsV3): model.EventInstantUnstakeComponentsV3,
	string(model.EventDecreaseComponents):         model.EventDecreaseComponents,
	string(model.EventRebalance):                  model.EventRebalance,
	string(model.EventStateTransition):            model.EventStateTransition,
	string(model.EventAutoAddValidator):           model.EventAutoAddValidator,
	string(model.EventAutoRemoveValidator):        model.EventAutoRemoveValidator,
	string(model.EventEpochMaintenance):           model.EventEpochMaintenance,
}

// decodeLogEvents scans program log lines for the enumerated event
// variants of §6, tagged as "JITO-STEWARD-EVENT:<Type>:<json>".
func decodeLogEvents(logs []string) []decodedEvent {
	var events []decodedEvent
	for _, line := range logs {
		rest, ok := strings.CutPrefix(line, eventLogPrefix)
		if !ok {
			continue
		}
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			continue
		}
		eventType, ok := knownEventTypes[parts[0]]
		if !ok {
			continue
		}
		var payload struct {
			VoteAccount string         `json:"vote_account"`
			Epoch       uint64         `json:"epoch"`
			Metadata    map[string]any `json:"metadata"`
		}
		if err := json.Unmarshal([]byte(parts[1]), &payload); err != nil {
			logger.Warn("steward event payload decode failed", "event_type", eventType, "err", err)
			continue
		}
		events = append(events, decodedEvent{
			Type:        eventType,
			VoteAccount: payload.VoteAccount,
			Epoch:       payload.Epoch,
			Metadata:    payload.Metadata,
		})
	}
	return events
}
