package traffic

import (
	"math"
	"sort"

	"github.com/ByteArena/box2d"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/ippo/environment"
	"github.com/samuelfneumann/ippo/utils/floatutils"
)

const (
	FPS float64 = 20

	velocityIterations int = 8
	positionIterations int = 3

	carHalfLength float64 = 2.2
	carHalfWidth  float64 = 0.9
	carDensity    float64 = 1.0

	// Spawn jitter around the lane start
	spawnJitterX     float64 = 2.0
	spawnJitterY     float64 = 0.3
	spawnJitterAngle float64 = 0.1

	egoFeatures       int = 10
	neighbourFeatures int = 4
)

// Outcome counters reported through the batch Info
const (
	InfoGoals      = "goals"
	InfoCollisions = "collisions"
	InfoOffRoad    = "offroad"
	InfoTruncated  = "truncated"
)

type vehicle struct {
	body     *box2d.B2Body
	goal     box2d.B2Vec2
	prevDist float64
	active   bool
	collided bool
}

// world is a single box2d road scene
type world struct {
	cfg      *Config
	b2       box2d.B2World
	vehicles []vehicle
	bodies   map[*box2d.B2Body]int
	steps    int

	rng     *rand.Rand
	starter environment.UniformStarter
}

func newWorld(cfg *Config, seed uint64) *world {
	return &world{
		cfg:      cfg,
		vehicles: make([]vehicle, cfg.MaxAgents),
		bodies:   make(map[*box2d.B2Body]int, cfg.MaxAgents),
		rng:      rand.New(rand.NewSource(seed)),
		starter: environment.NewUniformStarter([]r1.Interval{
			{Min: 0, Max: spawnJitterX},
			{Min: -spawnJitterY, Max: spawnJitterY},
			{Min: -spawnJitterAngle, Max: spawnJitterAngle},
		}, seed+1),
	}
}

type contactDetector struct {
	w *world
}

func (c *contactDetector) BeginContact(contact box2d.B2ContactInterface) {
	if i, ok := c.w.bodies[contact.GetFixtureA().GetBody()]; ok {
		c.w.vehicles[i].collided = true
	}
	if i, ok := c.w.bodies[contact.GetFixtureB().GetBody()]; ok {
		c.w.vehicles[i].collided = true
	}
}

func (c *contactDetector) EndContact(contact box2d.B2ContactInterface) {}
func (c *contactDetector) PreSolve(contact box2d.B2ContactInterface, oldManifold box2d.B2Manifold) {
}
func (c *contactDetector) PostSolve(contact box2d.B2ContactInterface, impulse *box2d.B2ContactImpulse) {
}

// reset rebuilds the scene with a fresh set of vehicles
func (w *world) reset() {
	w.b2 = box2d.MakeB2World(box2d.MakeB2Vec2(0, 0))
	w.b2.SetContactListener(&contactDetector{w})
	w.bodies = make(map[*box2d.B2Body]int, w.cfg.MaxAgents)
	w.steps = 0

	n := w.cfg.MinAgents + w.rng.Intn(w.cfg.MaxAgents-w.cfg.MinAgents+1)
	start := make([]float64, 3)
	for i := range w.vehicles {
		w.vehicles[i] = vehicle{}
		if i >= n {
			continue
		}

		w.starter.Sample(start)
		x := 2*carHalfLength + start[0]
		y := laneCentre(i, w.cfg.LaneWidth) + start[1]

		def := box2d.MakeB2BodyDef()
		def.Type = 2 // Dynamic body
		def.Position = box2d.MakeB2Vec2(x, y)
		def.Angle = start[2]
		def.LinearDamping = 0.2
		body := w.b2.CreateBody(&def)

		shape := box2d.NewB2PolygonShape()
		shape.SetAsBox(carHalfLength, carHalfWidth)
		fix := box2d.MakeB2FixtureDef()
		fix.Shape = shape
		fix.Density = carDensity
		fix.Friction = 0.3
		body.CreateFixtureFromDef(&fix)

		goalLane := w.rng.Intn(w.cfg.MaxAgents)
		goal := box2d.MakeB2Vec2(w.cfg.RoadLength-2*carHalfLength,
			laneCentre(goalLane, w.cfg.LaneWidth))

		w.vehicles[i] = vehicle{
			body:     body,
			goal:     goal,
			prevDist: distance(body.GetPosition(), goal),
			active:   true,
		}
		w.bodies[body] = i
	}
}

// step applies one (accel, steer) control per slot, advances the
// physics, and writes the reward and done flag of each slot
func (w *world) step(controls [][2]float64, rewards, dones []float64,
	info map[string]float64) {
	for i := range w.vehicles {
		v := &w.vehicles[i]
		if !v.active {
			continue
		}
		w.drive(v.body, controls[i][0], controls[i][1])
	}

	w.b2.Step(1.0/FPS, velocityIterations, positionIterations)
	w.steps++

	for i := range w.vehicles {
		v := &w.vehicles[i]
		rewards[i], dones[i] = 0, 1
		if !v.active {
			continue
		}

		pos := v.body.GetPosition()
		dist := distance(pos, v.goal)
		reward := w.cfg.ProgressReward * (v.prevDist - dist)
		v.prevDist = dist

		done := true
		switch {
		case v.collided:
			reward -= w.cfg.CollisionPenalty
			info[InfoCollisions]++
		case w.offRoad(pos):
			reward -= w.cfg.OffRoadPenalty
			info[InfoOffRoad]++
		case dist < w.cfg.GoalRadius:
			reward += w.cfg.GoalReward
			info[InfoGoals]++
		case w.steps >= w.cfg.EpisodeSteps:
			info[InfoTruncated]++
		default:
			done = false
		}

		rewards[i] = reward
		if !done {
			dones[i] = 0
			continue
		}

		// Finished vehicles leave the road
		v.active = false
		delete(w.bodies, v.body)
		w.b2.DestroyBody(v.body)
		v.body = nil
	}
}

// drive applies a throttle and steering command to a vehicle. Lateral
// velocity is cancelled so that vehicles do not drift.
func (w *world) drive(body *box2d.B2Body, accel, steer float64) {
	angle := body.GetAngle()
	forward := box2d.MakeB2Vec2(math.Cos(angle), math.Sin(angle))
	right := box2d.MakeB2Vec2(-math.Sin(angle), math.Cos(angle))
	vel := body.GetLinearVelocity()
	speed := vel.X*forward.X + vel.Y*forward.Y

	if (accel > 0 && speed >= w.cfg.MaxSpeed) ||
		(accel < 0 && speed <= -w.cfg.MaxSpeed/4) {
		accel = 0
	}
	force := accel * w.cfg.Accel * body.GetMass()
	body.ApplyForceToCenter(box2d.MakeB2Vec2(forward.X*force,
		forward.Y*force), true)

	lateral := (vel.X*right.X + vel.Y*right.Y) * body.GetMass()
	body.ApplyLinearImpulse(box2d.MakeB2Vec2(-right.X*lateral,
		-right.Y*lateral), body.GetWorldCenter(), true)

	turn := floatutils.Clip(speed/w.cfg.MaxSpeed, -1, 1)
	body.SetAngularVelocity(steer * w.cfg.SteerRate * turn)
}

func (w *world) offRoad(pos box2d.B2Vec2) bool {
	return pos.X < 0 || pos.X > w.cfg.RoadLength || pos.Y < 0 ||
		pos.Y > w.cfg.RoadWidth()
}

// observe writes the observation of slot i into obs. Inactive slots
// observe zeros.
func (w *world) observe(i int, obs []float64) {
	for j := range obs {
		obs[j] = 0
	}
	v := w.vehicles[i]
	if !v.active {
		return
	}

	length, width := w.cfg.RoadLength, w.cfg.RoadWidth()
	pos := v.body.GetPosition()
	vel := v.body.GetLinearVelocity()
	angle := floatutils.Wrap(v.body.GetAngle(), -math.Pi, math.Pi)
	gx, gy := toLocal(v.goal.X-pos.X, v.goal.Y-pos.Y, angle)
	edge := math.Min(pos.Y, width-pos.Y)

	copy(obs, []float64{
		pos.X / length,
		pos.Y / width,
		math.Cos(angle),
		math.Sin(angle),
		vel.X / w.cfg.MaxSpeed,
		vel.Y / w.cfg.MaxSpeed,
		gx / length,
		gy / length,
		distance(pos, v.goal) / length,
		edge / w.cfg.LaneWidth,
	})

	// Nearest active vehicles in the ego frame, nearest first
	others := make([]int, 0, len(w.vehicles)-1)
	for j := range w.vehicles {
		if j != i && w.vehicles[j].active {
			others = append(others, j)
		}
	}
	sort.SliceStable(others, func(a, b int) bool {
		pa := w.vehicles[others[a]].body.GetPosition()
		pb := w.vehicles[others[b]].body.GetPosition()
		return distance(pos, pa) < distance(pos, pb)
	})

	for k := 0; k < w.cfg.Neighbours && k < len(others); k++ {
		o := w.vehicles[others[k]].body
		op, ov := o.GetPosition(), o.GetLinearVelocity()
		dx, dy := toLocal(op.X-pos.X, op.Y-pos.Y, angle)
		dvx, dvy := toLocal(ov.X-vel.X, ov.Y-vel.Y, angle)

		offset := egoFeatures + k*neighbourFeatures
		obs[offset] = dx / length
		obs[offset+1] = dy / length
		obs[offset+2] = dvx / w.cfg.MaxSpeed
		obs[offset+3] = dvy / w.cfg.MaxSpeed
	}
}

func laneCentre(lane int, laneWidth float64) float64 {
	return (float64(lane) + 0.5) * laneWidth
}

func distance(a, b box2d.B2Vec2) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// toLocal rotates the vector (x, y) into a frame with heading angle
func toLocal(x, y, angle float64) (float64, float64) {
	c, s := math.Cos(angle), math.Sin(angle)
	return c*x + s*y, -s*x + c*y
}
