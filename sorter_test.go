package bitonic

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/bitonic/backend/cpu"
	"github.com/gogpu/bitonic/gpucore"
)

// newTestSorter creates a sorter on a host device. The device is closed
// with the test.
func newTestSorter(t *testing.T, cfg Config, opts ...cpu.Option) (*Sorter, *cpu.Device) {
	t.Helper()
	dev := cpu.New(opts...)
	s, err := NewSorter(dev, cfg)
	if err != nil {
		dev.Close()
		t.Fatalf("NewSorter(%+v): %v", cfg, err)
	}
	t.Cleanup(func() {
		_ = s.Close()
		dev.Close()
	})
	return s, dev
}

// makeRecords returns positions with the given keys in w and colors that
// carry the original index in x.
func makeRecords(keys []float32) (pos, col []f32.Vec4) {
	pos = make([]f32.Vec4, len(keys))
	col = make([]f32.Vec4, len(keys))
	for i, k := range keys {
		pos[i] = f32.Vec4{float32(i), 0, 0, k}
		col[i] = f32.Vec4{float32(i), 0.5, 0.25, 1}
	}
	return pos, col
}

func randomKeys(rng *rand.Rand, n int) []float32 {
	keys := make([]float32, n)
	for i := range keys {
		// Plenty of duplicates.
		keys[i] = float32(rng.IntN(max(n/4, 2)))
	}
	return keys
}

// checkSortedPermutation verifies order, color alignment and that the
// output is a permutation of the input.
func checkSortedPermutation(t *testing.T, keys []float32, pos, col []f32.Vec4, order Order) {
	t.Helper()
	if len(pos) != len(keys) || len(col) != len(keys) {
		t.Fatalf("got %d/%d records, want %d", len(pos), len(col), len(keys))
	}
	for i := 1; i < len(pos); i++ {
		a, b := pos[i-1][3], pos[i][3]
		if (order == Ascending && a > b) || (order == Descending && a < b) {
			t.Fatalf("not %s at %d: %v then %v", order, i, a, b)
		}
	}
	seen := make([]bool, len(keys))
	for i := range pos {
		orig := int(pos[i][0])
		if col[i][0] != pos[i][0] {
			t.Fatalf("record %d: color index %v, position index %v", i, col[i][0], pos[i][0])
		}
		if seen[orig] {
			t.Fatalf("record %d duplicated at %d", orig, i)
		}
		seen[orig] = true
		if pos[i][3] != keys[orig] {
			t.Fatalf("record %d carries key %v, want %v", orig, pos[i][3], keys[orig])
		}
	}
}

func sortOnce(t *testing.T, s *Sorter) {
	t.Helper()
	started, err := s.Sort(context.Background())
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	if !started {
		t.Fatal("Sort was not started")
	}
}

func snapshot(t *testing.T, s *Sorter) (pos, col []f32.Vec4) {
	t.Helper()
	pos, col, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return pos, col
}

// =============================================================================
// Sorted Output Tests
// =============================================================================

func TestSorter_SortedOutput(t *testing.T) {
	sizes := []uint32{16, 512, 262144}
	blocks := []uint32{4, 16, 512}

	for _, n := range sizes {
		for _, b := range blocks {
			if b > n {
				continue
			}
			t.Run(fmt.Sprintf("N=%d/B=%d", n, b), func(t *testing.T) {
				if n >= 262144 && b < 512 && testing.Short() {
					t.Skip("merge strategy at 512x512 is slow in short mode")
				}
				s, _ := newTestSorter(t, Config{ElementCount: n, BlockSize: b})

				keys := randomKeys(rand.New(rand.NewPCG(uint64(n), uint64(b))), int(n))
				pos, col := makeRecords(keys)
				if err := s.SetData(pos, col); err != nil {
					t.Fatal(err)
				}
				sortOnce(t, s)

				gotPos, gotCol := snapshot(t, s)
				checkSortedPermutation(t, keys, gotPos, gotCol, Ascending)
			})
		}
	}
}

func TestSorter_DescendingInputExample(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4, TileSize: 2})
	if s.Config().Strategy != StrategyTranspose {
		t.Fatalf("strategy = %s, want transpose", s.Config().Strategy)
	}

	keys := make([]float32, 16)
	for i := range keys {
		keys[i] = float32(15 - i)
	}
	pos, col := makeRecords(keys)
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}
	sortOnce(t, s)

	gotPos, gotCol := snapshot(t, s)
	for i := range gotPos {
		if gotPos[i][3] != float32(i) {
			t.Errorf("key[%d] = %v, want %d", i, gotPos[i][3], i)
		}
		// Key i started at index 15-i.
		if gotCol[i][0] != float32(15-i) {
			t.Errorf("color[%d] index = %v, want %d", i, gotCol[i][0], 15-i)
		}
	}
}

func TestSorter_Strategies(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		want  Strategy
		order Order
	}{
		{"transpose square", Config{ElementCount: 64, BlockSize: 8}, StrategyTranspose, Ascending},
		{"transpose wide", Config{ElementCount: 128, BlockSize: 16, TileSize: 4}, StrategyTranspose, Ascending},
		{"transpose tile 1", Config{ElementCount: 64, BlockSize: 8, TileSize: 1}, StrategyTranspose, Ascending},
		{"forced merge", Config{ElementCount: 64, BlockSize: 8, Strategy: StrategyMerge}, StrategyMerge, Ascending},
		{"auto merge", Config{ElementCount: 256, BlockSize: 8}, StrategyMerge, Ascending},
		{"descending transpose", Config{ElementCount: 64, BlockSize: 8, Order: Descending}, StrategyTranspose, Descending},
		{"descending merge", Config{ElementCount: 256, BlockSize: 4, Order: Descending}, StrategyMerge, Descending},
		{"single block", Config{ElementCount: 32, BlockSize: 32}, StrategyTranspose, Ascending},
		{"small merge workgroups", Config{ElementCount: 1024, BlockSize: 2, WorkgroupSize: 4}, StrategyMerge, Ascending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSorter(t, tt.cfg)
			if got := s.Config().Strategy; got != tt.want {
				t.Fatalf("strategy = %s, want %s", got, tt.want)
			}

			keys := randomKeys(rand.New(rand.NewPCG(3, uint64(tt.cfg.ElementCount))), int(tt.cfg.ElementCount))
			pos, col := makeRecords(keys)
			if err := s.SetData(pos, col); err != nil {
				t.Fatal(err)
			}
			sortOnce(t, s)

			gotPos, gotCol := snapshot(t, s)
			checkSortedPermutation(t, keys, gotPos, gotCol, tt.order)
		})
	}
}

func TestSorter_KeyComponent(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4, Key: ComponentY})

	pos := make([]f32.Vec4, 16)
	col := make([]f32.Vec4, 16)
	for i := range pos {
		pos[i] = f32.Vec4{float32(i), float32((i * 7) % 16), 0, 0}
		col[i] = f32.Vec4{float32(i)}
	}
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}
	sortOnce(t, s)

	gotPos, gotCol := snapshot(t, s)
	for i := range gotPos {
		if gotPos[i][1] != float32(i) {
			t.Errorf("y[%d] = %v, want %d", i, gotPos[i][1], i)
		}
		if gotCol[i][0] != gotPos[i][0] {
			t.Errorf("color %d out of sync", i)
		}
	}
}

func TestSorter_Idempotent(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 512, BlockSize: 16})

	keys := randomKeys(rand.New(rand.NewPCG(11, 12)), 512)
	pos, col := makeRecords(keys)
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}
	sortOnce(t, s)
	firstPos, _ := snapshot(t, s)

	sortOnce(t, s)
	secondPos, secondCol := snapshot(t, s)

	checkSortedPermutation(t, keys, secondPos, secondCol, Ascending)
	for i := range firstPos {
		if firstPos[i][3] != secondPos[i][3] {
			t.Fatalf("key %d changed on second sort: %v -> %v", i, firstPos[i][3], secondPos[i][3])
		}
	}
}

func TestSorter_EqualKeys(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 64, BlockSize: 8})

	keys := make([]float32, 64)
	for i := range keys {
		keys[i] = 7
	}
	pos, col := makeRecords(keys)
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}
	sortOnce(t, s)

	// Relative order of equal keys is unspecified; only the permutation
	// and color alignment are checked.
	gotPos, gotCol := snapshot(t, s)
	checkSortedPermutation(t, keys, gotPos, gotCol, Ascending)
}

// =============================================================================
// Data Lifecycle Tests
// =============================================================================

func TestSorter_DirtyReupload(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 64, BlockSize: 4})

	if s.Dirty() {
		t.Error("new sorter should not be dirty")
	}

	keysA := randomKeys(rand.New(rand.NewPCG(1, 1)), 64)
	pos, col := makeRecords(keysA)
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}
	if !s.Dirty() {
		t.Error("SetData should mark the sorter dirty")
	}
	sortOnce(t, s)
	if s.Dirty() {
		t.Error("sort should clear the dirty flag")
	}

	keysB := make([]float32, 64)
	for i := range keysB {
		keysB[i] = float32(-i)
	}
	pos, col = makeRecords(keysB)
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}
	sortOnce(t, s)

	gotPos, gotCol := snapshot(t, s)
	checkSortedPermutation(t, keysB, gotPos, gotCol, Ascending)

	sortOnce(t, s)
	st := s.Stats()
	if st.Uploads != 2 {
		t.Errorf("Uploads = %d, want 2", st.Uploads)
	}
	if st.Completed != 3 || st.Started != 3 {
		t.Errorf("Started/Completed = %d/%d, want 3/3", st.Started, st.Completed)
	}
}

func TestSorter_SetDataLength(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4})

	err := s.SetData(make([]f32.Vec4, 15), make([]f32.Vec4, 16))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
	if s.Dirty() {
		t.Error("rejected data marked the sorter dirty")
	}
}

func TestSorter_SetDataCopies(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4})

	keys := randomKeys(rand.New(rand.NewPCG(5, 5)), 16)
	pos, col := makeRecords(keys)
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}
	for i := range pos {
		pos[i][3] = 1000
	}
	sortOnce(t, s)

	gotPos, gotCol := snapshot(t, s)
	checkSortedPermutation(t, keys, gotPos, gotCol, Ascending)
}

func TestSorter_Surface(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 64, BlockSize: 8, SurfaceWidth: 8, SurfaceHeight: 8})

	plan := s.Plan()
	if last := plan[len(plan)-1]; last.Kind != gpucore.KernelPublish {
		t.Fatalf("last pass = %s, want publish", last)
	}

	keys := randomKeys(rand.New(rand.NewPCG(9, 9)), 64)
	pos, col := makeRecords(keys)
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}
	sortOnce(t, s)

	sortedPos, sortedCol := snapshot(t, s)
	surfPos, surfCol, err := s.ReadSurface()
	if err != nil {
		t.Fatalf("ReadSurface: %v", err)
	}
	if !slices.Equal(sortedPos, surfPos) || !slices.Equal(sortedCol, surfCol) {
		t.Error("surface differs from the sorted pair")
	}
}

func TestSorter_NoSurface(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4})

	if _, _, err := s.ReadSurface(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

// =============================================================================
// Reentrancy and Failure Tests
// =============================================================================

func TestSorter_ReentrantCallDropped(t *testing.T) {
	var s *Sorter
	var inner []bool
	hook := func(kind gpucore.KernelKind, p gpucore.Params, x, y, z uint32) error {
		if len(inner) == 0 {
			started, err := s.Sort(context.Background())
			if err != nil {
				return err
			}
			inner = append(inner, started)
		}
		return nil
	}
	s, _ = newTestSorter(t, Config{ElementCount: 64, BlockSize: 8}, cpu.WithDispatchHook(hook))

	keys := randomKeys(rand.New(rand.NewPCG(2, 4)), 64)
	pos, col := makeRecords(keys)
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}
	sortOnce(t, s)

	if len(inner) != 1 || inner[0] {
		t.Fatalf("reentrant Sort started = %v, want [false]", inner)
	}
	st := s.Stats()
	if st.Dropped != 1 || st.Started != 1 || st.Completed != 1 {
		t.Errorf("stats = %+v, want 1 dropped, 1 started, 1 completed", st)
	}

	gotPos, gotCol := snapshot(t, s)
	checkSortedPermutation(t, keys, gotPos, gotCol, Ascending)
	if s.State() != StateIdle {
		t.Errorf("State() = %s, want idle", s.State())
	}
}

func TestSorter_ConcurrentCallsDropped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	hook := func(gpucore.KernelKind, gpucore.Params, uint32, uint32, uint32) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4}, cpu.WithDispatchHook(hook))

	done := make(chan error, 1)
	go func() {
		_, err := s.Sort(context.Background())
		done <- err
	}()
	<-entered

	if s.State() != StateExecuting {
		t.Errorf("State() = %s, want executing", s.State())
	}
	for range 3 {
		started, err := s.Sort(context.Background())
		if started || err != nil {
			t.Errorf("concurrent Sort = (%v, %v), want (false, nil)", started, err)
		}
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Sort: %v", err)
	}
	if st := s.Stats(); st.Dropped != 3 || st.Completed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSorter_DispatchFailureRestarts(t *testing.T) {
	boom := errors.New("device lost")
	var calls int
	hook := func(gpucore.KernelKind, gpucore.Params, uint32, uint32, uint32) error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	}
	s, dev := newTestSorter(t, Config{ElementCount: 64, BlockSize: 4}, cpu.WithDispatchHook(hook))

	keys := randomKeys(rand.New(rand.NewPCG(6, 6)), 64)
	pos, col := makeRecords(keys)
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}

	started, err := s.Sort(context.Background())
	if !started {
		t.Fatal("failing Sort was not started")
	}
	if !errors.Is(err, ErrResourceUnavailable) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrResourceUnavailable wrapping the device error", err)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %s after failure, want idle", s.State())
	}
	assertUnbound(t, s, dev)

	sortOnce(t, s)
	gotPos, gotCol := snapshot(t, s)
	checkSortedPermutation(t, keys, gotPos, gotCol, Ascending)

	if st := s.Stats(); st.Failed != 1 || st.Completed != 1 {
		t.Errorf("stats = %+v, want 1 failed, 1 completed", st)
	}
}

func assertUnbound(t *testing.T, s *Sorter, dev *cpu.Device) {
	t.Helper()
	for kind, k := range s.kernels {
		if k == gpucore.InvalidID {
			continue
		}
		for slot := range gpucore.SlotCount {
			if v := dev.Bound(k, slot); v != gpucore.InvalidID {
				t.Errorf("%s slot %d still bound to view %d", gpucore.KernelKind(kind), slot, v)
			}
		}
	}
}

func TestSorter_UnbindsAfterSort(t *testing.T) {
	s, dev := newTestSorter(t, Config{ElementCount: 64, BlockSize: 8, SurfaceWidth: 64, SurfaceHeight: 1})
	sortOnce(t, s)
	assertUnbound(t, s, dev)
}

func TestSorter_ContextCanceled(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4})
	keys := make([]float32, 16)
	for i := range keys {
		keys[i] = float32(15 - i)
	}
	pos, col := makeRecords(keys)
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	started, err := s.Sort(ctx)
	if !started || !errors.Is(err, context.Canceled) {
		t.Errorf("Sort = (%v, %v), want (true, context.Canceled)", started, err)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %s, want idle", s.State())
	}
	if !s.Dirty() {
		t.Error("staged data was uploaded by a canceled invocation")
	}
	if st := s.Stats(); st.Started != 0 || st.Dispatches != 0 {
		t.Errorf("stats = %+v, want nothing started", st)
	}
}

func TestSorter_CancelMidSequenceCompletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int
	hook := func(gpucore.KernelKind, gpucore.Params, uint32, uint32, uint32) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return nil
	}
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4}, cpu.WithDispatchHook(hook))

	keys := make([]float32, 16)
	for i := range keys {
		keys[i] = float32(15 - i)
	}
	pos, col := makeRecords(keys)
	if err := s.SetData(pos, col); err != nil {
		t.Fatal(err)
	}

	started, err := s.Sort(ctx)
	if !started || err != nil {
		t.Fatalf("Sort = (%v, %v), want (true, nil)", started, err)
	}
	if calls != len(s.Plan()) {
		t.Errorf("dispatches = %d, want the whole plan (%d)", calls, len(s.Plan()))
	}
	gotPos, gotCol := snapshot(t, s)
	checkSortedPermutation(t, keys, gotPos, gotCol, Ascending)
	for i, p := range gotPos {
		if p[3] != float32(i) {
			t.Fatalf("key %d = %v, want %d", i, p[3], i)
		}
	}
}

// =============================================================================
// Teardown Tests
// =============================================================================

func TestSorter_Close(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !s.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}

	started, err := s.Sort(context.Background())
	if started || err != nil {
		t.Errorf("Sort after Close = (%v, %v), want (false, nil)", started, err)
	}
	if _, _, err := s.Snapshot(); !errors.Is(err, ErrClosed) {
		t.Errorf("Snapshot err = %v, want ErrClosed", err)
	}
	if err := s.SetData(make([]f32.Vec4, 16), make([]f32.Vec4, 16)); !errors.Is(err, ErrClosed) {
		t.Errorf("SetData err = %v, want ErrClosed", err)
	}
}

func TestSorter_CloseDuringExecution(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	hook := func(gpucore.KernelKind, gpucore.Params, uint32, uint32, uint32) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}
	s, _ := newTestSorter(t, Config{ElementCount: 64, BlockSize: 4}, cpu.WithDispatchHook(hook))

	sortErr := make(chan error, 1)
	go func() {
		_, err := s.Sort(context.Background())
		sortErr <- err
	}()
	<-entered

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateTearingDown {
		if time.Now().After(deadline) {
			t.Fatal("Close did not enter teardown")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-closed:
		t.Fatal("Close released resources while a pass sequence was running")
	default:
	}

	close(release)
	if err := <-sortErr; err != nil {
		t.Errorf("Sort err = %v, want the running sequence to complete", err)
	}
	if err := <-closed; err != nil {
		t.Errorf("Close: %v", err)
	}
	if st := s.Stats(); st.Completed != 1 || st.Failed != 0 {
		t.Errorf("stats = %+v, want 1 completed", st)
	}
}

func TestSorter_SetDataRacesClose(t *testing.T) {
	s, _ := newTestSorter(t, Config{ElementCount: 16, BlockSize: 4})
	pos, col := makeRecords(make([]float32, 16))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := s.SetData(pos, col); errors.Is(err, ErrClosed) {
					return
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.stagedPos != nil || s.stagedCol != nil || s.dirty {
		t.Error("data staged after Close cleared it")
	}
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNewSorter_Errors(t *testing.T) {
	dev := cpu.New(cpu.WithWorkers(1))
	defer dev.Close()

	if _, err := NewSorter(nil, Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil device: err = %v, want ErrInvalidConfig", err)
	}

	_, err := NewSorter(dev, Config{ElementCount: 48, BlockSize: 4})
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Field != "element count" {
		t.Errorf("err = %v, want element count ConfigError", err)
	}
}

func TestNewSorter_AllocationFailure(t *testing.T) {
	dev := cpu.New(cpu.WithWorkers(1))
	dev.Close()

	_, err := NewSorter(dev, Config{ElementCount: 16, BlockSize: 4})
	if !errors.Is(err, ErrResourceUnavailable) || !errors.Is(err, gpucore.ErrDeviceClosed) {
		t.Errorf("err = %v, want ErrResourceUnavailable wrapping ErrDeviceClosed", err)
	}
}

func TestSorter_PlanResources(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantScratch bool
		wantSurface bool
	}{
		{"transpose needs scratch", Config{ElementCount: 64, BlockSize: 8}, true, false},
		{"merge needs no scratch", Config{ElementCount: 64, BlockSize: 8, Strategy: StrategyMerge}, false, false},
		{"single block needs no scratch", Config{ElementCount: 16, BlockSize: 16}, false, false},
		{"surface", Config{ElementCount: 16, BlockSize: 16, SurfaceWidth: 4, SurfaceHeight: 4}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSorter(t, tt.cfg)
			if s.hasSet[SetScratch] != tt.wantScratch {
				t.Errorf("scratch allocated = %v, want %v", s.hasSet[SetScratch], tt.wantScratch)
			}
			if s.hasSet[SetSurface] != tt.wantSurface {
				t.Errorf("surface allocated = %v, want %v", s.hasSet[SetSurface], tt.wantSurface)
			}
		})
	}
}
