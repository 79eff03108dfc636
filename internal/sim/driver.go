// Package sim is the surrounding simulation loop: it owns the particles,
// rebuilds the tree every step, and asks the gravity engine for one
// evaluation pass per step. The gravity core itself never steps time.
package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/mkruse/treefmm/internal/cluster"
	"github.com/mkruse/treefmm/internal/geom"
	"github.com/mkruse/treefmm/internal/gravity"
	"github.com/mkruse/treefmm/internal/metrics"
	"github.com/mkruse/treefmm/internal/tree"
)

type Config struct {
	Dt       float64
	Duration float64
	Theta    float64
	MaxMass  float64
	Workers  int
	LeafCap  int
}

func (c Config) leafCap() int {
	if c.LeafCap > 0 {
		return c.LeafCap
	}
	return tree.DefaultLeafCap
}

func (c Config) passParams() gravity.Params {
	return gravity.Params{Theta: c.Theta, MaxMass: c.MaxMass, Workers: c.Workers}
}

type Result struct {
	Times      []float64
	Energies   []float64
	Metrics    map[string]float64
	StepsTaken int
}

// Observer is notified after every completed step.
type Observer interface {
	OnStep(parts []*tree.Particle, step int, t float64)
}

// Driver advances a particle set with leapfrog (kick-drift-kick) steps,
// running one distributed gravity pass per step. Ranks of the same group
// must drive their drivers in lockstep; the pass collectives keep them
// synchronized.
type Driver struct {
	comm      cluster.Communicator
	pass      *gravity.Pass
	metrics   []metrics.Metric
	observers []Observer
}

func New(comm cluster.Communicator) *Driver {
	return &Driver{comm: comm, pass: gravity.NewPass(comm)}
}

func (d *Driver) AddMetric(m metrics.Metric) { d.metrics = append(d.metrics, m) }
func (d *Driver) AddObserver(o Observer)     { d.observers = append(d.observers, o) }

func (d *Driver) Pass() *gravity.Pass        { return d.pass }
func (d *Driver) Comm() cluster.Communicator { return d.comm }

// Prime computes initial accelerations so the first kick has forces to
// work with.
func (d *Driver) Prime(ctx context.Context, parts []*tree.Particle, cfg Config) error {
	return d.evaluate(ctx, parts, cfg)
}

// Step advances one leapfrog step. Accelerations must be current on entry
// (Prime before the first Step) and are current again on exit.
func (d *Driver) Step(ctx context.Context, parts []*tree.Particle, cfg Config) error {
	half := cfg.Dt / 2
	for _, p := range parts {
		p.Vel = p.Vel.Add(p.Acc.Scale(half))
		p.Pos = p.Pos.Add(p.Vel.Scale(cfg.Dt))
	}
	if err := d.evaluate(ctx, parts, cfg); err != nil {
		return err
	}
	for _, p := range parts {
		p.Vel = p.Vel.Add(p.Acc.Scale(half))
	}
	return nil
}

// evaluate rebuilds the tree and runs one gravity pass, leaving fresh
// accelerations on parts.
func (d *Driver) evaluate(ctx context.Context, parts []*tree.Particle, cfg Config) error {
	for _, p := range parts {
		p.Acc = geom.Vec3{}
	}
	t, err := tree.Build(parts, cfg.leafCap())
	if err != nil {
		return err
	}
	return d.pass.Run(ctx, t, cfg.passParams())
}

// Run executes the full configured duration and collects diagnostics.
// Energies are computed over this rank's particles only.
func (d *Driver) Run(ctx context.Context, parts []*tree.Particle, cfg Config) (*Result, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	// Round so durations that are not exact binary multiples of dt, like
	// 0.3/0.1, still take the intended number of steps.
	steps := int(math.Round(cfg.Duration / cfg.Dt))
	result := &Result{
		Times:    make([]float64, 0, steps+1),
		Energies: make([]float64, 0, steps+1),
		Metrics:  make(map[string]float64),
	}
	for _, m := range d.metrics {
		m.Reset()
	}

	if err := d.Prime(ctx, parts, cfg); err != nil {
		return nil, err
	}

	t := 0.0
	d.record(result, parts, t)
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := d.Step(ctx, parts, cfg); err != nil {
			return result, err
		}
		t += cfg.Dt
		result.StepsTaken++
		d.record(result, parts, t)

		for _, o := range d.observers {
			o.OnStep(parts, i, t)
		}
	}

	for _, m := range d.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
	return result, nil
}

func (d *Driver) record(result *Result, parts []*tree.Particle, t float64) {
	result.Times = append(result.Times, t)
	result.Energies = append(result.Energies, metrics.TotalEnergy(parts))
	for _, m := range d.metrics {
		m.Observe(parts, t)
	}
}

func validate(cfg Config) error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("sim: dt must be positive, got %f", cfg.Dt)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("sim: duration must be positive, got %f", cfg.Duration)
	}
	return nil
}
