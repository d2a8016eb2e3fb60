package pool

import "math"

// SessionReward computes the payout for a finished mining session.
// Rewards scale with hash rate and duration; the time bonus multiplier is
// capped at 2x so indefinitely long sessions don't pay out without bound,
// and every credited share adds a flat bonus on top.
func SessionReward(hashRate, durationSeconds float64, shares int64) int64 {
	const baseReward = 0.1 // per second
	hashMultiplier := hashRate / 1000
	timeBonus := math.Min(durationSeconds/3600, 2)
	shareBonus := float64(shares) * 5

	return int64(math.Floor(baseReward*hashMultiplier*durationSeconds*timeBonus + shareBonus))
}

// BlockShare computes one miner's floored cut of a block reward,
// proportional to its hash rate. Because each share is floored
// independently, the distributed sum can undershoot blockReward; the
// remainder is deliberately not redistributed.
func BlockShare(minerHashRate, totalHashRate float64, blockReward int64) int64 {
	if totalHashRate <= 0 {
		return 0
	}
	return int64(math.Floor(minerHashRate / totalHashRate * float64(blockReward)))
}
