package traffic

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config configures a vectorized traffic environment. Each world is a
// straight road with one lane per agent slot. Vehicles spawn at the
// left end of their lane and must reach a goal at the right end of a
// randomly chosen lane without colliding or leaving the road.
type Config struct {
	NumWorlds int
	MaxAgents int

	// MinAgents is the smallest number of vehicles spawned in a world.
	// On each reset, a world spawns between MinAgents and MaxAgents
	// vehicles; the remaining slots are inactive.
	MinAgents int

	// Continuous selects continuous (accel, steer) actions in [-1, 1]².
	// Otherwise actions are an index into the 3 x 3 grid of
	// accel, steer ∈ {-1, 0, 1}.
	Continuous bool

	// EpisodeSteps truncates every episode after this many steps
	EpisodeSteps int

	// Neighbours is the number of nearest vehicles included in each
	// observation
	Neighbours int

	RoadLength float64
	LaneWidth  float64
	MaxSpeed   float64
	Accel      float64
	SteerRate  float64
	GoalRadius float64

	ProgressReward   float64
	GoalReward       float64
	CollisionPenalty float64
	OffRoadPenalty   float64

	Seed uint64
}

// DefaultConfig returns a Config with sensible physics and rewards for
// the given number of worlds and agents
func DefaultConfig(numWorlds, maxAgents int) Config {
	return Config{
		NumWorlds:        numWorlds,
		MaxAgents:        maxAgents,
		MinAgents:        1,
		EpisodeSteps:     120,
		Neighbours:       2,
		RoadLength:       60.0,
		LaneWidth:        3.5,
		MaxSpeed:         10.0,
		Accel:            4.0,
		SteerRate:        1.2,
		GoalRadius:       2.0,
		ProgressReward:   0.1,
		GoalReward:       10.0,
		CollisionPenalty: 10.0,
		OffRoadPenalty:   5.0,
	}
}

// LoadConfig loads a Config from a JSON file. Fields absent from the
// file keep their default values.
func LoadConfig(filename string, numWorlds, maxAgents int) (Config, error) {
	c := DefaultConfig(numWorlds, maxAgents)
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("loadConfig: %v", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("loadConfig: %v", err)
	}
	return c, c.Validate()
}

// Validate checks that a Config is usable
func (c Config) Validate() error {
	if c.NumWorlds < 1 {
		return fmt.Errorf("validate: need at least one world")
	}
	if c.MaxAgents < 1 || c.MinAgents < 1 || c.MinAgents > c.MaxAgents {
		return fmt.Errorf("validate: need 1 <= MinAgents (%v) <= "+
			"MaxAgents (%v)", c.MinAgents, c.MaxAgents)
	}
	if c.EpisodeSteps < 1 {
		return fmt.Errorf("validate: episode steps must be positive")
	}
	if c.Neighbours < 0 {
		return fmt.Errorf("validate: neighbours must be non-negative")
	}
	if c.RoadLength <= 4*carHalfLength || c.LaneWidth <= 2*carHalfWidth {
		return fmt.Errorf("validate: road of length %v with lanes of "+
			"width %v cannot fit a vehicle", c.RoadLength, c.LaneWidth)
	}
	if c.MaxSpeed <= 0 || c.Accel <= 0 || c.SteerRate <= 0 {
		return fmt.Errorf("validate: speed, acceleration, and steering " +
			"rate must be positive")
	}
	if c.GoalRadius <= 0 {
		return fmt.Errorf("validate: goal radius must be positive")
	}
	return nil
}

// ObsDim returns the observation dimension of a single agent slot
func (c Config) ObsDim() int {
	return egoFeatures + neighbourFeatures*c.Neighbours
}

// RoadWidth returns the total width of the road
func (c Config) RoadWidth() float64 {
	return c.LaneWidth * float64(c.MaxAgents)
}
