package bam

import (
	"github.com/jito-foundation/kobe/internal/model"
	"github.com/jito-foundation/kobe/internal/store"
)

// LoadBlacklist reads every bam_delegation_blacklist entry: the "external
// blacklist list" consulted on every run cycle (§4.5). It is a flat,
// operator-managed collection of excluded vote accounts, not derived from
// any on-chain bitmap.
func LoadBlacklist(st *store.Store) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	err := st.ScanCollection(store.CollectionBamDelegationBlacklist, func(key string, data []byte) error {
		set[key] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// SyncBlacklist inserts any of voteAccounts not already recorded into
// bam_delegation_blacklist, stamped with the epoch they were first seen.
// Entries already present keep their original AddedEpoch, matching the
// collection's insert-once semantics (there is no on-chain source to
// reconcile against, so re-adding an existing entry is a no-op rather
// than an overwrite).
func SyncBlacklist(st *store.Store, voteAccounts map[string]struct{}, epoch uint64) error {
	for va := range voteAccounts {
		var existing model.BamDelegationBlacklistEntry
		ok, err := st.Get(store.CollectionBamDelegationBlacklist, store.BamDelegationBlacklistKey(va), &existing)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		entry := model.BamDelegationBlacklistEntry{VoteAccount: va, AddedEpoch: epoch}
		if err := st.Put(store.CollectionBamDelegationBlacklist, store.BamDelegationBlacklistKey(va), entry, nil); err != nil {
			return err
		}
	}
	return nil
}
