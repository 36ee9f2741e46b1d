package steward

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/jito-foundation/kobe/internal/model"
	"github.com/jito-foundation/kobe/internal/rpc"
	"github.com/jito-foundation/kobe/internal/store"
)

func TestDecodeLogEventsParsesKnownEvent(t *testing.T) {
	logs := []string{
		"Program 11111111111111111111111111111111111111111 invoke [1]",
		`Program log: JITO-STEWARD-EVENT:RebalanceEvent:{"vote_account":"vote-1","epoch":500,"metadata":{"delta":"1000"}}`,
		"Program 11111111111111111111111111111111111111111 success",
	}
	events := decodeLogEvents(logs)
	require.Len(t, events, 1)
	require.Equal(t, model.EventRebalance, events[0].Type)
	require.Equal(t, "vote-1", events[0].VoteAccount)
	require.Equal(t, uint64(500), events[0].Epoch)
	require.Equal(t, "1000", events[0].Metadata["delta"])
}

func TestDecodeLogEventsIgnoresUnknownEventTag(t *testing.T) {
	logs := []string{`Program log: JITO-STEWARD-EVENT:SomeFutureEvent:{"vote_account":"v"}`}
	require.Empty(t, decodeLogEvents(logs))
}

func TestDecodeLogEventsIgnoresMalformedPayload(t *testing.T) {
	logs := []string{`Program log: JITO-STEWARD-EVENT:RebalanceEvent:{not-json`}
	require.Empty(t, decodeLogEvents(logs))
}

func TestDecodeLogEventsIgnoresUnrelatedLogLines(t *testing.T) {
	logs := []string{"Program log: some other program's log line"}
	require.Empty(t, decodeLogEvents(logs))
}

func TestDecodeLogEventsMultipleEventsInOneTransaction(t *testing.T) {
	logs := []string{
		`Program log: JITO-STEWARD-EVENT:StateTransition:{"vote_account":"","epoch":10,"metadata":{}}`,
		`Program log: JITO-STEWARD-EVENT:EpochMaintenanceEvent:{"vote_account":"","epoch":10,"metadata":{}}`,
	}
	events := decodeLogEvents(logs)
	require.Len(t, events, 2)
	require.Equal(t, model.EventStateTransition, events[0].Type)
	require.Equal(t, model.EventEpochMaintenance, events[1].Type)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type pageCall struct {
	before, until *solana.Signature
}

// fakeGateway records each page request and serves canned pages in
// order; the last configured page (or an empty page, if pages is
// exhausted) ends the paging loop.
type fakeGateway struct {
	calls []pageCall
	pages [][]rpc.SignatureInfo
}

func (f *fakeGateway) GetSignaturesForAddress(_ context.Context, _ solana.PublicKey, before, until *solana.Signature, _ int) ([]rpc.SignatureInfo, error) {
	f.calls = append(f.calls, pageCall{before: before, until: until})
	idx := len(f.calls) - 1
	if idx >= len(f.pages) {
		return nil, nil
	}
	return f.pages[idx], nil
}

func (f *fakeGateway) GetTransaction(_ context.Context, _ solana.Signature) (*solanarpc.GetTransactionResult, error) {
	return nil, nil
}

func TestListenTickFirstRunPagesFromTipWithNoBound(t *testing.T) {
	fg := &fakeGateway{}
	ix := &Indexer{Gateway: fg, Store: openTestStore(t), StewardProgram: solana.SystemProgramID, StakePool: solana.SystemProgramID}

	require.NoError(t, ix.ListenTick(context.Background()))

	require.Len(t, fg.calls, 1)
	require.Nil(t, fg.calls[0].before)
	require.Nil(t, fg.calls[0].until)
}

func TestListenTickResumesFromTipBoundedByPersistedCursor(t *testing.T) {
	st := openTestStore(t)
	var cursorSig solana.Signature
	cursorSig[0] = 7
	require.NoError(t, st.Put(store.CollectionStewardCursor, store.StewardCursorKey, cursor{
		Signature: cursorSig.String(),
		Slot:      100,
	}, nil))

	fg := &fakeGateway{}
	ix := &Indexer{Gateway: fg, Store: st, StewardProgram: solana.SystemProgramID, StakePool: solana.SystemProgramID}

	require.NoError(t, ix.ListenTick(context.Background()))

	require.Len(t, fg.calls, 1)
	require.Nil(t, fg.calls[0].before, "a tailing tick must start at the chain tip, not resume paging from the old cursor")
	require.NotNil(t, fg.calls[0].until)
	require.Equal(t, cursorSig, *fg.calls[0].until, "paging must stop at the persisted cursor")
}

func TestListenTickAdvancesCursorAcrossFullPages(t *testing.T) {
	st := openTestStore(t)
	sigs := make([]solana.Signature, listenPageSize)
	for i := range sigs {
		sigs[i][0] = byte(i%250 + 1)
		sigs[i][1] = byte(i / 250)
	}
	firstPage := make([]rpc.SignatureInfo, listenPageSize)
	for i, s := range sigs {
		firstPage[i] = rpc.SignatureInfo{Signature: s, Slot: uint64(1000 - i)}
	}

	fg := &fakeGateway{pages: [][]rpc.SignatureInfo{firstPage, nil}}
	ix := &Indexer{Gateway: fg, Store: st, StewardProgram: solana.SystemProgramID, StakePool: solana.SystemProgramID}

	require.NoError(t, ix.ListenTick(context.Background()))

	require.Len(t, fg.calls, 2, "a full page must trigger a second page bounded by the same until")
	require.Equal(t, sigs[len(sigs)-1], *fg.calls[1].before, "second page must resume from the oldest signature of the first page")
	require.Nil(t, fg.calls[0].until)
	require.Nil(t, fg.calls[1].until)

	var persisted cursor
	ok, err := st.Get(store.CollectionStewardCursor, store.StewardCursorKey, &persisted)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sigs[len(sigs)-1].String(), persisted.Signature, "cursor must advance to the oldest signature seen this tick")
}

func TestBackfillStopsBelowStartSlotAndDropsAboveEndSlot(t *testing.T) {
	page := []rpc.SignatureInfo{
		{Signature: solana.Signature{1}, Slot: 300},
		{Signature: solana.Signature{2}, Slot: 250}, // above endSlot, dropped
		{Signature: solana.Signature{3}, Slot: 150},
		{Signature: solana.Signature{4}, Slot: 50}, // below startSlot, stops the walk
	}
	fg := &fakeGateway{pages: [][]rpc.SignatureInfo{page}}
	ix := &Indexer{Gateway: fg, Store: openTestStore(t), StewardProgram: solana.SystemProgramID, StakePool: solana.SystemProgramID}

	require.NoError(t, ix.Backfill(context.Background(), 100, 200))

	require.Len(t, fg.calls, 1, "a below-startSlot signature in the page must stop further paging")
}
