package netsim

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/opuadm/HappyPhoneBot/internal/logger"
	"github.com/opuadm/HappyPhoneBot/internal/repository"
)

var (
	// ErrInvalidSpeed is returned for a non-positive speed.
	ErrInvalidSpeed = errors.New("speed must be positive")

	// ErrInvalidLatency is returned for a negative latency.
	ErrInvalidLatency = errors.New("latency must be zero or positive")

	// ErrInvalidJitter is returned for a negative jitter.
	ErrInvalidJitter = errors.New("jitter must be zero or positive")

	// ErrInvalidLoss is returned for a packet loss outside [0, 100].
	ErrInvalidLoss = errors.New("packet loss must be between 0 and 100")

	// ErrUnknownUnit is returned for an unrecognized speed unit.
	ErrUnknownUnit = errors.New("unknown speed unit")
)

// Profile holds a user's simulated network parameters.
type Profile struct {
	SpeedMbps     float64 `json:"speed_mbps"`
	LatencyMs     float64 `json:"latency_ms"`
	JitterMs      float64 `json:"jitter_ms"`
	PacketLossPct float64 `json:"packet_loss_pct"`
	Enabled       bool    `json:"enabled"`
}

// speedUnits maps a unit suffix to its factor relative to Mbps.
var speedUnits = map[string]float64{
	"bps":  1e-6,
	"kbps": 1e-3,
	"mbps": 1,
	"gbps": 1e3,
	"tbps": 1e6,
}

// ParseSpeedMbps converts a value with a unit suffix into Mbps.
func ParseSpeedMbps(value float64, unit string) (float64, error) {
	factor, ok := speedUnits[strings.ToLower(unit)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, unit)
	}

	mbps := value * factor
	if mbps <= 0 {
		return 0, ErrInvalidSpeed
	}

	return mbps, nil
}

// Store caches one Profile per user on top of the repository. A profile is
// created with defaults on first read and never deleted.
type Store struct {
	mu       sync.Mutex
	repo     *repository.BoltRepository
	cache    map[string]Profile
	defaults Profile
	onChange func(userID string, p Profile)
}

// NewStore creates a profile store backed by repo. New users start with the
// given default profile.
func NewStore(repo *repository.BoltRepository, defaults Profile) *Store {
	return &Store{
		repo:     repo,
		cache:    make(map[string]Profile),
		defaults: defaults,
	}
}

// SetOnChange registers a hook invoked after every successful profile
// mutation, outside the store lock. The orchestrator uses it to recalculate
// in-flight transfers.
func (s *Store) SetOnChange(fn func(userID string, p Profile)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Profile returns the user's network profile, creating it with defaults on
// first access.
func (s *Store) Profile(userID string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileLocked(userID)
}

func (s *Store) profileLocked(userID string) (Profile, error) {
	if p, ok := s.cache[userID]; ok {
		return p, nil
	}

	var p Profile
	err := s.repo.Load(repository.NetworkConfigsTable, userID, &p)
	switch {
	case err == nil:
		s.cache[userID] = p
		return p, nil
	case errors.Is(err, repository.ErrNotFound):
		logger.Debugf("Creating default network profile for user %s", userID)
		s.cache[userID] = s.defaults

		if err := s.repo.Save(repository.NetworkConfigsTable, userID, s.defaults); err != nil {
			return Profile{}, fmt.Errorf("failed to save new network profile: %w", err)
		}
		return s.defaults, nil
	default:
		return Profile{}, fmt.Errorf("failed to load network profile: %w", err)
	}
}

// mutate applies fn to the user's profile, persists it and fires the
// change hook.
func (s *Store) mutate(userID string, fn func(*Profile) error) (Profile, error) {
	s.mu.Lock()

	p, err := s.profileLocked(userID)
	if err != nil {
		s.mu.Unlock()
		return Profile{}, err
	}

	if err := fn(&p); err != nil {
		s.mu.Unlock()
		return Profile{}, err
	}

	s.cache[userID] = p
	if err := s.repo.Save(repository.NetworkConfigsTable, userID, p); err != nil {
		s.mu.Unlock()
		return Profile{}, fmt.Errorf("failed to save network profile: %w", err)
	}

	hook := s.onChange
	s.mu.Unlock()

	if hook != nil {
		hook(userID, p)
	}

	return p, nil
}

// SetSpeed sets the user's simulated speed in Mbps.
func (s *Store) SetSpeed(userID string, mbps float64) (Profile, error) {
	return s.mutate(userID, func(p *Profile) error {
		if mbps <= 0 {
			return ErrInvalidSpeed
		}
		p.SpeedMbps = mbps
		return nil
	})
}

// SetLatency sets the user's simulated latency in milliseconds.
func (s *Store) SetLatency(userID string, ms float64) (Profile, error) {
	return s.mutate(userID, func(p *Profile) error {
		if ms < 0 {
			return ErrInvalidLatency
		}
		p.LatencyMs = ms
		return nil
	})
}

// SetJitter sets the user's simulated jitter in milliseconds.
func (s *Store) SetJitter(userID string, ms float64) (Profile, error) {
	return s.mutate(userID, func(p *Profile) error {
		if ms < 0 {
			return ErrInvalidJitter
		}
		p.JitterMs = ms
		return nil
	})
}

// SetPacketLoss sets the user's simulated packet loss percentage.
func (s *Store) SetPacketLoss(userID string, pct float64) (Profile, error) {
	return s.mutate(userID, func(p *Profile) error {
		if pct < 0 || pct > 100 {
			return ErrInvalidLoss
		}
		p.PacketLossPct = pct
		return nil
	})
}

// Toggle flips the simulation on or off and returns the updated profile.
func (s *Store) Toggle(userID string) (Profile, error) {
	return s.mutate(userID, func(p *Profile) error {
		p.Enabled = !p.Enabled
		return nil
	})
}
