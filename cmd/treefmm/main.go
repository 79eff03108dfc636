package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/mkruse/treefmm/internal/cluster"
	"github.com/mkruse/treefmm/internal/config"
	"github.com/mkruse/treefmm/internal/geom"
	"github.com/mkruse/treefmm/internal/gravity"
	"github.com/mkruse/treefmm/internal/metrics"
	"github.com/mkruse/treefmm/internal/sim"
	"github.com/mkruse/treefmm/internal/store"
	"github.com/mkruse/treefmm/internal/tree"
	"github.com/mkruse/treefmm/internal/viz"
)

var (
	dataDir  string
	bodies   int
	ranks    int
	workers  int
	theta    float64
	maxMass  float64
	leafCap  int
	dt       float64
	duration float64
	seed     int64
	// Config file
	configFile string
	// Preset name
	preset string
	// Frame rate for live view
	frameRate int
	// TCP group mode
	listenAddr string
	joinAddr   string
	// Convergence sweep
	thetaMax   float64
	thetaSteps int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "treefmm",
		Short: "distributed octree gravity lab",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".treefmm", "data directory")

	runCmd := &cobra.Command{
		Use:   "run [shape]",
		Short: "run simulation",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	addRunFlags(runCmd)
	runCmd.Flags().IntVar(&ranks, "ranks", 1, "in-process ranks")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "host a TCP group on this address (rank 0)")
	runCmd.Flags().StringVar(&joinAddr, "join", "", "join a TCP group at this address")
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")

	liveCmd := &cobra.Command{
		Use:   "live [shape]",
		Short: "run simulation with live visualization",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLiveView,
	}
	addRunFlags(liveCmd)
	liveCmd.Flags().IntVar(&frameRate, "fps", 30, "frame rate")

	convergeCmd := &cobra.Command{
		Use:   "converge [shape]",
		Short: "sweep the opening angle against a direct pairwise sum",
		Args:  cobra.MaximumNArgs(1),
		RunE:  convergeSweep,
	}
	convergeCmd.Flags().IntVar(&bodies, "bodies", 256, "number of bodies")
	convergeCmd.Flags().Float64Var(&maxMass, "max-mass", config.DefaultMaxMass, "cell selection mass cutoff")
	convergeCmd.Flags().IntVar(&leafCap, "leaf-cap", config.DefaultLeafCap, "particles per leaf")
	convergeCmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	convergeCmd.Flags().Float64Var(&thetaMax, "theta-max", 1.0, "largest opening angle in the sweep")
	convergeCmd.Flags().IntVar(&thetaSteps, "steps", 10, "number of sweep points")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot the energy history of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.ListPresets() {
				p := config.GetPreset(name)
				fmt.Printf("  %-10s %s, %d bodies, %d ranks, theta %.2f\n",
					name, p.Shape, p.Bodies, p.Ranks, p.Theta)
			}
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, liveCmd, convergeCmd, listCmd, plotCmd, exportCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&bodies, "bodies", config.DefaultBodies, "number of bodies")
	cmd.Flags().IntVar(&workers, "workers", 0, "contribution workers (0 = NumCPU)")
	cmd.Flags().Float64Var(&theta, "theta", config.DefaultTheta, "opening angle")
	cmd.Flags().Float64Var(&maxMass, "max-mass", config.DefaultMaxMass, "cell selection mass cutoff")
	cmd.Flags().IntVar(&leafCap, "leaf-cap", config.DefaultLeafCap, "particles per leaf")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "timestep")
	cmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
}

// buildConfig resolves the effective configuration: preset first, then
// config file, with explicitly set CLI flags overriding both.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		p := config.GetPreset(preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		cfg = p
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("bodies") {
		cfg.Bodies = bodies
	}
	if cmd.Flags().Changed("ranks") {
		cfg.Ranks = ranks
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	if cmd.Flags().Changed("theta") {
		cfg.Theta = theta
	}
	if cmd.Flags().Changed("max-mass") {
		cfg.MaxMass = maxMass
	}
	if cmd.Flags().Changed("leaf-cap") {
		cfg.LeafCap = leafCap
	}
	if cmd.Flags().Changed("dt") {
		cfg.Dt = dt
	}
	if cmd.Flags().Changed("time") {
		cfg.Duration = duration
	}
	if cfg.Seed == 0 || cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	if len(args) > 0 {
		cfg.Shape = args[0]
	}

	return cfg, cfg.Validate()
}

func simConfig(cfg *config.Config) sim.Config {
	return sim.Config{
		Dt:       cfg.Dt,
		Duration: cfg.Duration,
		Theta:    cfg.Theta,
		MaxMass:  cfg.MaxMass,
		Workers:  cfg.Workers,
		LeafCap:  cfg.LeafCap,
	}
}

func addMetrics(d *sim.Driver) {
	d.AddMetric(metrics.NewEnergyDrift())
	d.AddMetric(metrics.NewMomentum())
	d.AddMetric(metrics.NewForceResidual())
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if listenAddr != "" || joinAddr != "" {
		return runNetworked(cfg)
	}

	parts, err := sim.MakeBodies(cfg.Shape, cfg.Bodies, cfg.Seed)
	if err != nil {
		return err
	}

	st := store.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	fmt.Printf("running %s, %d bodies on %d ranks...\n", cfg.Shape, cfg.Bodies, cfg.Ranks)
	start := time.Now()

	var result *sim.Result
	if cfg.Ranks > 1 {
		slabs := sim.Partition(parts, cfg.Ranks)
		results, err := sim.RunGroup(context.Background(), slabs, simConfig(cfg), func(rank int, d *sim.Driver) {
			addMetrics(d)
		})
		if err != nil {
			return err
		}
		result = mergeResults(results)
	} else {
		d := sim.New(cluster.Single())
		addMetrics(d)
		result, err = d.Run(context.Background(), parts, simConfig(cfg))
		if err != nil {
			return err
		}
	}

	elapsed := time.Since(start)

	runID, err := st.Save(cfg, result)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d\n", result.StepsTaken)
	fmt.Println("\nmetrics:")
	for name, val := range result.Metrics {
		fmt.Printf("  %s: %.6g\n", name, val)
	}

	return nil
}

// mergeResults combines per-rank results into one record: energies sum
// across ranks per step, diagnostics keep the worst rank.
func mergeResults(results []*sim.Result) *sim.Result {
	merged := &sim.Result{
		Times:      results[0].Times,
		Energies:   make([]float64, len(results[0].Energies)),
		Metrics:    make(map[string]float64),
		StepsTaken: results[0].StepsTaken,
	}
	for _, r := range results {
		for i, e := range r.Energies {
			merged.Energies[i] += e
		}
		for name, val := range r.Metrics {
			if val > merged.Metrics[name] {
				merged.Metrics[name] = val
			}
		}
	}
	return merged
}

// runNetworked joins (or hosts) a TCP rank group. Every process generates
// the same bodies from the shared seed and simulates its own slab.
func runNetworked(cfg *config.Config) error {
	var (
		comm *cluster.Network
		err  error
	)
	if listenAddr != "" {
		fmt.Printf("hosting group of %d on %s...\n", cfg.Ranks, listenAddr)
		comm, err = cluster.Listen(listenAddr, cfg.Ranks)
	} else {
		fmt.Printf("joining group at %s...\n", joinAddr)
		comm, err = cluster.Dial(joinAddr)
	}
	if err != nil {
		return err
	}
	defer comm.Close()

	parts, err := sim.MakeBodies(cfg.Shape, cfg.Bodies, cfg.Seed)
	if err != nil {
		return err
	}
	slabs := sim.Partition(parts, comm.Size())

	fmt.Printf("rank %d of %d, %d local bodies\n", comm.Rank(), comm.Size(), len(slabs[comm.Rank()]))
	start := time.Now()

	d := sim.New(comm)
	addMetrics(d)
	result, err := d.Run(context.Background(), slabs[comm.Rank()], simConfig(cfg))
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", time.Since(start))
	for name, val := range result.Metrics {
		fmt.Printf("  %s: %.6g\n", name, val)
	}

	if comm.Rank() == 0 {
		st := store.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(cfg, result)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}
	return nil
}

func runLiveView(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	parts, err := sim.MakeBodies(cfg.Shape, cfg.Bodies, cfg.Seed)
	if err != nil {
		return err
	}

	d := sim.New(cluster.Single())
	return viz.RunLive(d, parts, simConfig(cfg), frameRate)
}

// convergeSweep measures the worst relative acceleration error of the tree
// pass against a direct O(n^2) sum, over a range of opening angles.
func convergeSweep(cmd *cobra.Command, args []string) error {
	shape := "sphere"
	if len(args) > 0 {
		shape = args[0]
	}
	if thetaSteps < 2 {
		return fmt.Errorf("sweep needs at least 2 steps, got %d", thetaSteps)
	}

	parts, err := sim.MakeBodies(shape, bodies, seed)
	if err != nil {
		return err
	}
	exact := directAccelerations(parts)

	fmt.Printf("%d bodies, %d sweep points up to theta %.2f\n\n", len(parts), thetaSteps, thetaMax)

	thetas := make([]float64, thetaSteps)
	errors := make([]float64, thetaSteps)
	d := sim.New(cluster.Single())
	for i := range thetas {
		thetas[i] = thetaMax * float64(i+1) / float64(thetaSteps)
		cfg := sim.Config{
			Dt:       1, // unused, Prime only evaluates forces
			Duration: 1,
			Theta:    thetas[i],
			MaxMass:  maxMass,
			LeafCap:  leafCap,
		}
		if err := d.Prime(context.Background(), parts, cfg); err != nil {
			return err
		}
		errors[i] = maxRelativeError(parts, exact)
		fmt.Printf("  theta %.3f  max rel error %.3e\n", thetas[i], errors[i])
	}

	fmt.Println()
	fmt.Println(asciigraph.Plot(errors,
		asciigraph.Height(10),
		asciigraph.Width(60),
		asciigraph.Caption(fmt.Sprintf("max relative error, theta %.2f..%.2f", thetas[0], thetaMax)),
	))
	return nil
}

func directAccelerations(parts []*tree.Particle) []geom.Vec3 {
	acc := make([]geom.Vec3, len(parts))
	for i, p := range parts {
		for j, q := range parts {
			if i == j {
				continue
			}
			acc[i] = acc[i].Add(gravity.PairwiseAcceleration(p.Pos, q.Pos, q.Mass))
		}
	}
	return acc
}

func maxRelativeError(parts []*tree.Particle, exact []geom.Vec3) float64 {
	worst := 0.0
	for i, p := range parts {
		ref := exact[i].Norm()
		if ref == 0 {
			continue
		}
		if e := p.Acc.Sub(exact[i]).Norm() / ref; e > worst {
			worst = e
		}
	}
	return worst
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSHAPE\tTIME\tBODIES\tRANKS\tTHETA\tDT\tSTEPS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.2f\t%.4f\t%d\n",
			run.ID,
			run.Shape,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Bodies,
			run.Ranks,
			run.Theta,
			run.Dt,
			run.Steps,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := store.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	times, energies, err := st.LoadEnergies(runID)
	if err != nil {
		return err
	}
	if len(energies) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("shape: %s\n", meta.Shape)
	fmt.Printf("samples: %d over %.2f time units\n\n", len(energies), times[len(times)-1])

	fmt.Println(asciigraph.Plot(energies,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("total energy vs time"),
	))
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := store.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}
