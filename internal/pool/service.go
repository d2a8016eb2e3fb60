package pool

import (
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/camarigor/tribeminer/internal/config"
	"github.com/camarigor/tribeminer/internal/storage"
)

// poolEfficiency is a cosmetic figure shown on the dashboard; nothing is
// computed from it.
const poolEfficiency = 95.2

// PoolStats is the process-wide pool summary
type PoolStats struct {
	ActiveMiners  int     `json:"activeMiners"`
	TotalHashRate float64 `json:"totalHashRate"`
	TotalRewards  int64   `json:"totalRewards"`
	BlocksFound   int64   `json:"blocksFound"`
	Difficulty    int64   `json:"difficulty"`
	Efficiency    float64 `json:"efficiency"`
}

// StatsStore is the slice of the profile store the engine needs: whole-
// document reads and writes of per-user mining stats.
type StatsStore interface {
	GetMiningStats(userID string) (storage.MiningStats, error)
	UpdateMiningStats(userID string, stats storage.MiningStats) error
}

// Service is the pool simulation engine. It owns the session registry and
// pool stats, runs the block-discovery and difficulty-retarget tickers,
// and keeps the persisted per-user stats up to date on a best-effort
// basis. In-memory session state is the source of truth; persisted stats
// may lag behind it.
type Service struct {
	cfg      config.PoolConfig
	store    StatsStore
	registry *Registry
	sched    *Scheduler

	mu    sync.RWMutex
	stats PoolStats

	// Randomness and clock are injectable so tick behavior can be pinned
	// down in tests
	randFloat func() float64
	randIntn  func(n int) int
	now       func() time.Time
}

func NewService(cfg config.PoolConfig, store StatsStore) *Service {
	s := &Service{
		cfg:      cfg,
		store:    store,
		registry: NewRegistry(),
		sched:    NewScheduler(),
		stats: PoolStats{
			TotalRewards: cfg.StartPoolRewards,
			Difficulty:   cfg.StartDifficulty,
			Efficiency:   poolEfficiency,
		},
		now: time.Now,
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rngMu sync.Mutex
	s.randFloat = func() float64 {
		rngMu.Lock()
		defer rngMu.Unlock()
		return rng.Float64()
	}
	s.randIntn = func(n int) int {
		rngMu.Lock()
		defer rngMu.Unlock()
		return rng.Intn(n)
	}

	s.sched.Add("blocks", cfg.BlockInterval, s.simulateBlock)
	s.sched.Add("difficulty", cfg.DifficultyInterval, s.adjustDifficulty)

	return s
}

// Start launches the block-generation and difficulty-adjustment tickers
func (s *Service) Start() {
	s.sched.Start()
}

// Stop halts the tickers. Idempotent.
func (s *Service) Stop() {
	s.sched.Stop()
}

// StartMining opens a mining session for the user with a freshly rolled
// hash rate. Returns ErrAlreadyActive if the user is already mining.
func (s *Service) StartMining(userID, walletAddress string) (float64, error) {
	hashRate := math.Floor(s.cfg.MinHashRate + s.randFloat()*(s.cfg.MaxHashRate-s.cfg.MinHashRate))

	session, err := s.registry.Start(userID, walletAddress, hashRate, s.now())
	if err != nil {
		return 0, err
	}
	s.recomputeStats()

	// Best effort: the session is live regardless of whether the profile
	// write lands.
	stats := s.UserStats(userID)
	stats.IsActiveMiner = true
	stats.CurrentHashRate = session.HashRate
	if err := s.store.UpdateMiningStats(userID, stats); err != nil {
		log.Printf("Failed to persist mining stats for user %s: %v", userID, err)
	}

	return session.HashRate, nil
}

// StopMining closes the user's session and pays out the session reward.
// Returns ErrNotActive if the user has no active session. The reward is
// computed and persisted before the session disappears from the registry.
func (s *Service) StopMining(userID string) (int64, error) {
	session, err := s.registry.Deactivate(userID)
	if err != nil {
		return 0, err
	}

	duration := s.now().Sub(session.StartTime).Seconds()
	reward := SessionReward(session.HashRate, duration, session.TotalShares)

	stats := s.UserStats(userID)
	stats.IsActiveMiner = false
	stats.CurrentHashRate = 0
	stats.TotalRewards += reward
	stats.SessionsCount++
	stats.TotalMiningTime += duration
	if err := s.store.UpdateMiningStats(userID, stats); err != nil {
		log.Printf("Failed to persist mining stats for user %s: %v", userID, err)
	}

	s.registry.Remove(session.ID)
	s.recomputeStats()

	return reward, nil
}

// UserStats reads the user's persisted mining stats. A store failure
// degrades to the zero value rather than blocking the mining flow.
func (s *Service) UserStats(userID string) storage.MiningStats {
	stats, err := s.store.GetMiningStats(userID)
	if err != nil {
		log.Printf("Failed to read mining stats for user %s: %v", userID, err)
		return storage.MiningStats{}
	}
	return stats
}

// PoolStats returns a snapshot of the pool summary
func (s *Service) PoolStats() PoolStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// ActiveMiners returns a snapshot of all active sessions
func (s *Service) ActiveMiners() []Session {
	return s.registry.Active()
}

// MinerByUser returns the user's active session, if any
func (s *Service) MinerByUser(userID string) (Session, bool) {
	return s.registry.ByUser(userID)
}

// recomputeStats rescans the registry after a session mutation so that
// ActiveMiners and TotalHashRate are consistent with the registry by the
// time the mutating call returns.
func (s *Service) recomputeStats() {
	active := s.registry.Active()

	var total float64
	for _, m := range active {
		total += m.HashRate
	}

	s.mu.Lock()
	s.stats.ActiveMiners = len(active)
	s.stats.TotalHashRate = total
	s.mu.Unlock()
}

// simulateBlock is the block-generation tick: roll against a probability
// derived from the pool hash rate and, on a hit, distribute a block reward
// across the sessions active at the moment of the roll.
func (s *Service) simulateBlock() {
	active := s.registry.Active()
	if len(active) == 0 {
		return
	}

	var totalHashRate float64
	for _, m := range active {
		totalHashRate += m.HashRate
	}

	// Hard 30% ceiling per tick no matter how large the pool grows
	probability := math.Min(totalHashRate/100000, 0.3)
	if s.randFloat() >= probability {
		return
	}

	blockReward := int64(1000 + s.randIntn(500))
	now := s.now()

	s.mu.Lock()
	s.stats.BlocksFound++
	s.stats.TotalRewards += blockReward
	s.mu.Unlock()

	rewarded := 0
	for _, m := range active {
		share := BlockShare(m.HashRate, totalHashRate, blockReward)

		s.registry.CreditShare(m.ID, now)

		// A failed write for one user must not starve the rest
		stats := s.UserStats(m.UserID)
		stats.TotalRewards += share
		if err := s.store.UpdateMiningStats(m.UserID, stats); err != nil {
			log.Printf("Failed to credit block share to user %s: %v", m.UserID, err)
			continue
		}
		rewarded++
	}

	log.Printf("Block found! Reward %d distributed to %d/%d miners", blockReward, rewarded, len(active))
}

// adjustDifficulty is the retarget tick: nudge difficulty toward the
// configured target aggregate hash rate and clamp it into bounds.
func (s *Service) adjustDifficulty() {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.stats.TotalHashRate
	target := s.cfg.TargetHashRate

	if current > target*1.2 {
		s.stats.Difficulty = int64(math.Floor(float64(s.stats.Difficulty) * 1.1))
	} else if current < target*0.8 {
		s.stats.Difficulty = int64(math.Floor(float64(s.stats.Difficulty) * 0.9))
	}

	// Clamp on every tick, not just when a branch fired
	if s.stats.Difficulty < s.cfg.MinDifficulty {
		s.stats.Difficulty = s.cfg.MinDifficulty
	}
	if s.stats.Difficulty > s.cfg.MaxDifficulty {
		s.stats.Difficulty = s.cfg.MaxDifficulty
	}

	log.Printf("Difficulty adjusted to %d", s.stats.Difficulty)
}
