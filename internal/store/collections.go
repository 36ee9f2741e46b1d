package store

import "fmt"

// Collection names, exactly as enumerated in spec §6.
const (
	CollectionValidators             = "validators"
	CollectionStakePoolStats         = "stake_pool_stats"
	CollectionValidatorRewards       = "validator_rewards"
	CollectionStakerRewards          = "staker_rewards"
	CollectionStewardEvents          = "steward_events"
	CollectionBamValidators          = "bam_validators"
	CollectionBamEpochMetrics        = "bam_epoch_metrics"
	CollectionBamBoostValidators     = "bam_boost_validators"
	CollectionBamDelegationBlacklist = "bam_delegation_blacklist"
	CollectionStewardCursor          = "steward_cursor"
)

// StewardCursorKey is the single well-known key holding the steward
// indexer's listen-mode resume point.
const StewardCursorKey = "latest"

// Index names used by ScanIndex/ExistsByIndex.
const (
	IndexByEpoch = "epoch"
	IndexBySlot  = "slot"
)

// ValidatorKey encodes the validators(epoch, vote_account) unique key.
func ValidatorKey(epoch uint64, voteAccount string) string {
	return fmt.Sprintf("%020d/%s", epoch, voteAccount)
}

// ValidatorRewardsKey encodes validator_rewards(epoch, vote_account).
func ValidatorRewardsKey(epoch uint64, voteAccount string) string {
	return fmt.Sprintf("%020d/%s", epoch, voteAccount)
}

// StakerRewardsKey encodes staker_rewards(epoch, claimant).
func StakerRewardsKey(epoch uint64, claimant string) string {
	return fmt.Sprintf("%020d/%s", epoch, claimant)
}

// BamValidatorKey encodes bam_validators(epoch, vote_account).
func BamValidatorKey(epoch uint64, voteAccount string) string {
	return fmt.Sprintf("%020d/%s", epoch, voteAccount)
}

// BamEpochMetricsKey encodes bam_epoch_metrics(epoch), unique.
func BamEpochMetricsKey(epoch uint64) string {
	return fmt.Sprintf("%020d", epoch)
}

// BamDelegationBlacklistKey encodes bam_delegation_blacklist(vote_account).
func BamDelegationBlacklistKey(voteAccount string) string {
	return voteAccount
}

// StewardEventKey encodes steward_events upsert key
// (signature, event_type, vote_account).
func StewardEventKey(signature, eventType, voteAccount string) string {
	return fmt.Sprintf("%s/%s/%s", signature, eventType, voteAccount)
}

// StakePoolStatsKey encodes stake_pool_stats(timestamp), hour-aligned.
func StakePoolStatsKey(hourAlignedUnix int64) string {
	return fmt.Sprintf("%020d", hourAlignedUnix)
}

// EpochIndexValue formats an epoch for use as a secondary index value.
func EpochIndexValue(epoch uint64) string {
	return fmt.Sprintf("%020d", epoch)
}

// SlotIndexValue formats a slot for use as a secondary index value.
func SlotIndexValue(slot uint64) string {
	return fmt.Sprintf("%020d", slot)
}
