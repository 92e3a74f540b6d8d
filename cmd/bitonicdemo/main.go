// Command bitonicdemo drives particle sorters from a simulated frame loop.
//
// Every frame requests one sort per sorter; requests made while the
// previous sort still runs are dropped. Every few frames the particles move
// and the new depths are staged for upload. At the end each sorter runs one
// last sort and the result is checked.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/image/math/f32"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/bitonic"
	"github.com/gogpu/bitonic/backend"
	_ "github.com/gogpu/bitonic/backend/cpu"
	_ "github.com/gogpu/bitonic/backend/native"
	"github.com/gogpu/bitonic/gpucore"
	"github.com/gogpu/bitonic/metrics"
)

func main() {
	var (
		n           = flag.Uint("n", bitonic.DefaultElementCount, "number of particles (power of two)")
		block       = flag.Uint("block", 0, "block size (default min(512, n))")
		tile        = flag.Uint("tile", 0, "transpose tile size (default min(16, matrix))")
		strategy    = flag.String("strategy", "auto", "levels above the block: auto, transpose or merge")
		devices     = flag.String("devices", "auto", "comma-separated device names, or auto")
		sets        = flag.Int("sets", 1, "independent sorters per device")
		frames      = flag.Int("frames", 120, "frames to simulate")
		frameTime   = flag.Duration("frame", 16*time.Millisecond, "frame interval")
		moveEvery   = flag.Int("move", 10, "move particles every this many frames")
		seed        = flag.Uint64("seed", 1, "random seed")
		descending  = flag.Bool("descending", false, "sort far to near")
		metricsAddr = flag.String("metrics", "", "serve Prometheus metrics on this address")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	bitonic.SetLogger(logger)

	strat, err := bitonic.ParseStrategy(*strategy)
	if err != nil {
		log.Fatal(err)
	}
	cfg := bitonic.Config{
		ElementCount: uint32(*n),
		BlockSize:    uint32(*block),
		TileSize:     uint32(*tile),
		Strategy:     strat,
	}
	if *descending {
		cfg.Order = bitonic.Descending
	}

	opened, closeDevices, err := openDevices(*devices)
	if err != nil {
		log.Fatalf("Failed to open devices: %v (available: %v)", err, backend.Available())
	}
	defer closeDevices()

	var runs []*run
	sources := make(map[string]metrics.StatsSource)
	for _, d := range opened {
		for i := range *sets {
			s, err := bitonic.NewSorter(d.dev, cfg)
			if err != nil {
				log.Fatalf("Failed to create sorter on %s: %v", d.name, err)
			}
			defer s.Close()
			name := fmt.Sprintf("%s-%d", d.name, i)
			runs = append(runs, &run{
				name:   name,
				sorter: s,
				rng:    rand.New(rand.NewPCG(*seed, uint64(len(runs)))),
				logger: logger.With("sorter", name),
			})
			sources[name] = s
		}
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(sources))
		srv := metrics.NewServer(*metricsAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background()) //nolint:errcheck // best effort on exit
		logger.Info("serving metrics", "addr", *metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range runs {
		g.Go(func() error {
			return r.loop(ctx, *frames, *frameTime, *moveEvery)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("demo failed", "err", err)
		os.Exit(1)
	}

	for _, r := range runs {
		st := r.sorter.Stats()
		logger.Info("sorter finished",
			"sorter", r.name,
			"strategy", st.Strategy.String(),
			"passes", st.PlanLength,
			"completed", st.Completed,
			"dropped", st.Dropped,
			"uploads", st.Uploads,
			"avg", averageDuration(st))
	}
}

type device struct {
	name string
	dev  gpucore.Device
}

func openDevices(names string) ([]device, func(), error) {
	var (
		opened  []device
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if names == "auto" {
		name, dev, closeFn, err := backend.Default()
		if err != nil {
			return nil, nil, err
		}
		return []device{{name: name, dev: dev}}, closeFn, nil
	}
	for _, name := range strings.Split(names, ",") {
		dev, closeFn, err := backend.Open(strings.TrimSpace(name))
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opened = append(opened, device{name: strings.TrimSpace(name), dev: dev})
		closers = append(closers, closeFn)
	}
	return opened, closeAll, nil
}

// run is one sorter and its particle system.
type run struct {
	name   string
	sorter *bitonic.Sorter
	rng    *rand.Rand
	logger *slog.Logger

	pos, col []f32.Vec4
}

// move scatters the particles and stores the camera depth in w.
func (r *run) move() error {
	n := int(r.sorter.Config().ElementCount)
	if r.pos == nil {
		r.pos = make([]f32.Vec4, n)
		r.col = make([]f32.Vec4, n)
		for i := range r.col {
			r.col[i] = f32.Vec4{r.rng.Float32(), r.rng.Float32(), r.rng.Float32(), 1}
		}
	}
	for i := range r.pos {
		x, y, z := r.rng.Float32()*2-1, r.rng.Float32()*2-1, r.rng.Float32()*2-1
		r.pos[i] = f32.Vec4{x, y, z, z + 1}
	}
	return r.sorter.SetData(r.pos, r.col)
}

func (r *run) loop(ctx context.Context, frames int, interval time.Duration, moveEvery int) error {
	var failures atomic.Int64
	exec := bitonic.NewExecutor(r.sorter, bitonic.WithResultFunc(func(res bitonic.Result) {
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
			failures.Add(1)
			r.logger.Warn("sort failed", "seq", res.Seq, "err", res.Err)
		}
	}))

	execCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- exec.Run(execCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for frame := range frames {
		if moveEvery > 0 && frame%moveEvery == 0 {
			if err := r.move(); err != nil {
				return err
			}
		}
		if !exec.Request() {
			r.logger.Debug("frame dropped sort", "frame", frame)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	// One last sort once the executor is idle.
	for {
		started, err := r.sorter.Sort(ctx)
		if err != nil {
			return fmt.Errorf("%s: final sort: %w", r.name, err)
		}
		if started {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	if n := failures.Load(); n > 0 {
		return fmt.Errorf("%s: %d sorts failed", r.name, n)
	}
	return r.verify()
}

func (r *run) verify() error {
	pos, _, err := r.sorter.Snapshot()
	if err != nil {
		return fmt.Errorf("%s: snapshot: %w", r.name, err)
	}
	desc := r.sorter.Config().Order == bitonic.Descending
	for i := 1; i < len(pos); i++ {
		a, b := pos[i-1][3], pos[i][3]
		if (!desc && a > b) || (desc && a < b) {
			return fmt.Errorf("%s: out of order at %d: %v, %v", r.name, i, a, b)
		}
	}
	r.logger.Info("sorted", "particles", len(pos), "nearest", pos[0][3], "farthest", pos[len(pos)-1][3])
	return nil
}

func averageDuration(st bitonic.Stats) time.Duration {
	if st.Completed == 0 {
		return 0
	}
	return st.TotalDuration / time.Duration(st.Completed)
}
