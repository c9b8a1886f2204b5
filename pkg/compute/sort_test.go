package compute

import (
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vexdb/vexsort/pkg/chunk"
	"github.com/vexdb/vexsort/pkg/common"
	"github.com/vexdb/vexsort/pkg/storage"
	"github.com/vexdb/vexsort/pkg/util"
)

func newTestBufferMgr(t *testing.T) *storage.BufferManager {
	t.Helper()
	mgr := storage.NewBufferManager(t.TempDir(), 0)
	t.Cleanup(mgr.Close)
	return mgr
}

func i32Val(v int) *chunk.Value {
	return &chunk.Value{Typ: common.IntegerType(), I64: int64(v)}
}

func strVal(s string) *chunk.Value {
	return &chunk.Value{Typ: common.VarcharType(), Str: s}
}

func nullVal(typ common.LType) *chunk.Value {
	return &chunk.Value{Typ: typ, IsNull: true}
}

// buildChunk lays the given column values out as one batch.
func buildChunk(t *testing.T, types []common.LType, cols ...[]*chunk.Value) *chunk.Chunk {
	t.Helper()
	require.Equal(t, len(types), len(cols))
	ret := &chunk.Chunk{}
	ret.Init(types, util.DefaultVectorSize)
	card := len(cols[0])
	for colIdx, col := range cols {
		require.Equal(t, card, len(col))
		for rowIdx, val := range col {
			ret.Data[colIdx].SetValue(rowIdx, val)
		}
	}
	ret.SetCard(card)
	return ret
}

// runOrder drives the full operator protocol over the given batches
// with one sink thread and a sequential scan.
func runOrder(
	t *testing.T,
	order *PhysicalOrder,
	bufferMgr *storage.BufferManager,
	payloadTypes []common.LType,
	batches []*chunk.Chunk,
) []*chunk.Chunk {
	t.Helper()
	gstate := order.GetGlobalState(bufferMgr)
	defer gstate.Close()
	lstate := order.GetLocalSinkState()
	for _, batch := range batches {
		require.NoError(t, order.Sink(gstate, lstate, batch))
	}
	require.NoError(t, order.Combine(gstate, lstate))
	lstate.Close()
	require.NoError(t, order.Finalize(gstate))

	state := order.GetOperatorState(nil)
	defer state.Close()
	out := make([]*chunk.Chunk, 0)
	for {
		output := &chunk.Chunk{}
		output.Init(payloadTypes, util.DefaultVectorSize)
		require.NoError(t, order.GetChunk(gstate, output, state))
		if output.Card() == 0 {
			break
		}
		//copy values out before the next batch reuses the pins
		copied := &chunk.Chunk{}
		copied.Init(payloadTypes, util.DefaultVectorSize)
		for col := 0; col < output.ColumnCount(); col++ {
			for row := 0; row < output.Card(); row++ {
				copied.Data[col].SetValue(row, output.Data[col].GetValue(row))
			}
		}
		copied.SetCard(output.Card())
		out = append(out, copied)
	}
	return out
}

func flattenCol(out []*chunk.Chunk, col int) []*chunk.Value {
	vals := make([]*chunk.Value, 0)
	for _, c := range out {
		for i := 0; i < c.Card(); i++ {
			vals = append(vals, c.Data[col].GetValue(i))
		}
	}
	return vals
}

func TestOrderIntAscNullsLast(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	types := []common.LType{common.IntegerType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.IntegerType())},
	}
	order := NewPhysicalOrder(types, orders, 4, nil)
	input := buildChunk(t, types,
		[]*chunk.Value{i32Val(3), i32Val(1), i32Val(2), nullVal(common.IntegerType())})
	out := runOrder(t, order, bufferMgr, types, []*chunk.Chunk{input})
	vals := flattenCol(out, 0)
	require.Len(t, vals, 4)
	require.Equal(t, int64(1), vals[0].I64)
	require.Equal(t, int64(2), vals[1].I64)
	require.Equal(t, int64(3), vals[2].I64)
	require.True(t, vals[3].IsNull)
}

func TestOrderVarcharDescNullsFirst(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	types := []common.LType{common.VarcharType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.VarcharType()), Desc: true, NullsFirst: true},
	}
	order := NewPhysicalOrder(types, orders, 3, nil)
	input := buildChunk(t, types,
		[]*chunk.Value{strVal("banana"), strVal("apple"), strVal("cherry")})
	out := runOrder(t, order, bufferMgr, types, []*chunk.Chunk{input})
	vals := flattenCol(out, 0)
	require.Len(t, vals, 3)
	require.Equal(t, "cherry", vals[0].Str)
	require.Equal(t, "banana", vals[1].Str)
	require.Equal(t, "apple", vals[2].Str)
}

func TestOrderIntThenVarcharTieBreak(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	types := []common.LType{common.IntegerType(), common.VarcharType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.IntegerType())},
		{Child: NewColumnRef(1, common.VarcharType())},
	}
	order := NewPhysicalOrder(types, orders, 3, nil)
	input := buildChunk(t, types,
		[]*chunk.Value{i32Val(1), i32Val(1), i32Val(2)},
		[]*chunk.Value{strVal("b"), strVal("a"), strVal("a")})
	out := runOrder(t, order, bufferMgr, types, []*chunk.Chunk{input})
	keys := flattenCol(out, 0)
	strs := flattenCol(out, 1)
	require.Len(t, keys, 3)
	require.Equal(t, int64(1), keys[0].I64)
	require.Equal(t, "a", strs[0].Str)
	require.Equal(t, int64(1), keys[1].I64)
	require.Equal(t, "b", strs[1].Str)
	require.Equal(t, int64(2), keys[2].I64)
	require.Equal(t, "a", strs[2].Str)
}

func TestOrderSharedPrefixTieBreak(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	cfg := &util.Config{}
	cfg.Sort.PrefixLength = 8
	cfg.FillDefaults()
	types := []common.LType{common.VarcharType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.VarcharType())},
	}
	order := NewPhysicalOrder(types, orders, 3, cfg)
	//all three share the first 8 bytes, only the tail differs
	input := buildChunk(t, types,
		[]*chunk.Value{strVal("alphabetical"), strVal("alphabetic!"), strVal("alphabet")})
	out := runOrder(t, order, bufferMgr, types, []*chunk.Chunk{input})
	vals := flattenCol(out, 0)
	require.Len(t, vals, 3)
	require.Equal(t, "alphabet", vals[0].Str)
	require.Equal(t, "alphabetic!", vals[1].Str)
	require.Equal(t, "alphabetical", vals[2].Str)
}

func TestOrderEmptyInput(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	types := []common.LType{common.IntegerType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.IntegerType())},
	}
	order := NewPhysicalOrder(types, orders, 0, nil)
	out := runOrder(t, order, bufferMgr, types, nil)
	require.Empty(t, out)
}

func TestOrderSingleRow(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	types := []common.LType{common.IntegerType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.IntegerType())},
	}
	order := NewPhysicalOrder(types, orders, 1, nil)
	input := buildChunk(t, types, []*chunk.Value{i32Val(42)})
	out := runOrder(t, order, bufferMgr, types, []*chunk.Chunk{input})
	vals := flattenCol(out, 0)
	require.Len(t, vals, 1)
	require.Equal(t, int64(42), vals[0].I64)
}

func TestOrderAllNull(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	types := []common.LType{common.VarcharType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.VarcharType())},
	}
	order := NewPhysicalOrder(types, orders, 3, nil)
	input := buildChunk(t, types,
		[]*chunk.Value{
			nullVal(common.VarcharType()),
			nullVal(common.VarcharType()),
			nullVal(common.VarcharType()),
		})
	out := runOrder(t, order, bufferMgr, types, []*chunk.Chunk{input})
	vals := flattenCol(out, 0)
	require.Len(t, vals, 3)
	for _, val := range vals {
		require.True(t, val.IsNull)
	}
}

func TestOrderAllEqual(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	types := []common.LType{common.VarcharType(), common.IntegerType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.VarcharType())},
	}
	order := NewPhysicalOrder(types, orders, 4, nil)
	input := buildChunk(t, types,
		[]*chunk.Value{strVal("same"), strVal("same"), strVal("same"), strVal("same")},
		[]*chunk.Value{i32Val(0), i32Val(1), i32Val(2), i32Val(3)})
	out := runOrder(t, order, bufferMgr, types, []*chunk.Chunk{input})
	keys := flattenCol(out, 0)
	payl := flattenCol(out, 1)
	require.Len(t, keys, 4)
	seen := make(map[int64]bool)
	for i, val := range keys {
		require.Equal(t, "same", val.Str)
		seen[payl[i].I64] = true
	}
	require.Len(t, seen, 4)
}

func TestOrderDescEverything(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	types := []common.LType{common.IntegerType(), common.VarcharType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.IntegerType()), Desc: true},
		{Child: NewColumnRef(1, common.VarcharType()), Desc: true},
	}
	order := NewPhysicalOrder(types, orders, 4, nil)
	input := buildChunk(t, types,
		[]*chunk.Value{i32Val(1), i32Val(2), i32Val(1), i32Val(2)},
		[]*chunk.Value{strVal("x"), strVal("a"), strVal("y"), strVal("b")})
	out := runOrder(t, order, bufferMgr, types, []*chunk.Chunk{input})
	keys := flattenCol(out, 0)
	strs := flattenCol(out, 1)
	require.Equal(t, int64(2), keys[0].I64)
	require.Equal(t, "b", strs[0].Str)
	require.Equal(t, int64(2), keys[1].I64)
	require.Equal(t, "a", strs[1].Str)
	require.Equal(t, int64(1), keys[2].I64)
	require.Equal(t, "y", strs[2].Str)
	require.Equal(t, int64(1), keys[3].I64)
	require.Equal(t, "x", strs[3].Str)
}

func TestOrderVarColumnInTheMiddle(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	types := []common.LType{
		common.IntegerType(), common.VarcharType(), common.IntegerType(),
	}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.IntegerType())},
		{Child: NewColumnRef(1, common.VarcharType())},
		{Child: NewColumnRef(2, common.IntegerType())},
	}
	order := NewPhysicalOrder(types, orders, 4, nil)
	input := buildChunk(t, types,
		[]*chunk.Value{i32Val(1), i32Val(1), i32Val(1), i32Val(1)},
		[]*chunk.Value{strVal("m"), strVal("m"), strVal("k"), strVal("k")},
		[]*chunk.Value{i32Val(2), i32Val(1), i32Val(9), i32Val(3)})
	out := runOrder(t, order, bufferMgr, types, []*chunk.Chunk{input})
	strs := flattenCol(out, 1)
	last := flattenCol(out, 2)
	require.Equal(t, "k", strs[0].Str)
	require.Equal(t, int64(3), last[0].I64)
	require.Equal(t, "k", strs[1].Str)
	require.Equal(t, int64(9), last[1].I64)
	require.Equal(t, "m", strs[2].Str)
	require.Equal(t, int64(1), last[2].I64)
	require.Equal(t, "m", strs[3].Str)
	require.Equal(t, int64(2), last[3].I64)
}

func TestOrderPayloadFollowsRows(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	types := []common.LType{common.VarcharType(), common.IntegerType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(1, common.IntegerType())},
	}
	order := NewPhysicalOrder(types, orders, 128, nil)
	rnd := rand.New(rand.NewSource(7))
	n := 100
	strs := make([]*chunk.Value, n)
	ints := make([]*chunk.Value, n)
	expect := make(map[int64]string, n)
	perm := rnd.Perm(n)
	for i := 0; i < n; i++ {
		key := int64(perm[i])
		s := "payload-" + string(rune('a'+key%26)) + "-" + string(rune('0'+key%10))
		strs[i] = strVal(s)
		ints[i] = i32Val(int(key))
		expect[key] = s
	}
	input := buildChunk(t, types, strs, ints)
	out := runOrder(t, order, bufferMgr, types, []*chunk.Chunk{input})
	outStrs := flattenCol(out, 0)
	outInts := flattenCol(out, 1)
	require.Len(t, outInts, n)
	for i := 0; i < n; i++ {
		require.Equal(t, int64(i), outInts[i].I64)
		require.Equal(t, expect[int64(i)], outStrs[i].Str)
	}
}

func TestOrderParallelSinkAndEmit(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	cfg := &util.Config{}
	//tiny threshold forces many local runs, exercising the merge
	cfg.Sort.SortingBlockSize = 4096
	cfg.FillDefaults()
	types := []common.LType{common.IntegerType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.IntegerType())},
	}
	n := 10000
	order := NewPhysicalOrder(types, orders, n, cfg)
	gstate := order.GetGlobalState(bufferMgr)
	defer gstate.Close()

	rnd := rand.New(rand.NewSource(42))
	values := make([]int32, n)
	for i := range values {
		values[i] = int32(rnd.Intn(1000) - 500)
	}

	//4 sink threads
	numThreads := 4
	perThread := n / numThreads
	group := errgroup.Group{}
	for th := 0; th < numThreads; th++ {
		part := values[th*perThread : (th+1)*perThread]
		group.Go(func() error {
			lstate := order.GetLocalSinkState()
			defer lstate.Close()
			for start := 0; start < len(part); start += util.DefaultVectorSize {
				cnt := min(util.DefaultVectorSize, len(part)-start)
				batch := &chunk.Chunk{}
				batch.Init(types, util.DefaultVectorSize)
				for i := 0; i < cnt; i++ {
					batch.Data[0].SetValue(i, i32Val(int(part[start+i])))
				}
				batch.SetCard(cnt)
				if err := order.Sink(gstate, lstate, batch); err != nil {
					return err
				}
			}
			return order.Combine(gstate, lstate)
		})
	}
	require.NoError(t, group.Wait())
	require.NoError(t, order.Finalize(gstate))
	require.Equal(t, n, gstate.TotalCount())

	//4 emit threads over the shared cursor
	parallel := order.GetParallelState()
	var mu sync.Mutex
	got := make([]int32, 0, n)
	group = errgroup.Group{}
	for th := 0; th < numThreads; th++ {
		group.Go(func() error {
			state := order.GetOperatorState(parallel)
			defer state.Close()
			local := make([]int32, 0)
			for {
				output := &chunk.Chunk{}
				output.Init(types, util.DefaultVectorSize)
				if err := order.GetChunk(gstate, output, state); err != nil {
					return err
				}
				if output.Card() == 0 {
					break
				}
				slice := chunk.GetSliceInPhyFormatFlat[int32](output.Data[0])
				local = append(local, slice[:output.Card()]...)
			}
			mu.Lock()
			got = append(got, local...)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, group.Wait())
	//claimed ranges cover the run exactly once
	require.Len(t, got, n)
	//permutation of the input
	wantSorted := make([]int32, n)
	copy(wantSorted, values)
	sort.Slice(wantSorted, func(i, j int) bool { return wantSorted[i] < wantSorted[j] })
	gotSorted := make([]int32, n)
	copy(gotSorted, got)
	sort.Slice(gotSorted, func(i, j int) bool { return gotSorted[i] < gotSorted[j] })
	require.Equal(t, wantSorted, gotSorted)
}

func TestOrderSequentialEmitIsSorted(t *testing.T) {
	bufferMgr := newTestBufferMgr(t)
	cfg := &util.Config{}
	cfg.Sort.SortingBlockSize = 4096
	cfg.FillDefaults()
	types := []common.LType{common.IntegerType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.IntegerType())},
	}
	n := 5000
	order := NewPhysicalOrder(types, orders, n, cfg)
	rnd := rand.New(rand.NewSource(3))
	batches := make([]*chunk.Chunk, 0)
	want := make([]int64, 0, n)
	for start := 0; start < n; start += util.DefaultVectorSize {
		cnt := min(util.DefaultVectorSize, n-start)
		vals := make([]*chunk.Value, cnt)
		for i := 0; i < cnt; i++ {
			v := rnd.Intn(100000) - 50000
			vals[i] = i32Val(v)
			want = append(want, int64(v))
		}
		batches = append(batches, buildChunk(t, types, vals))
	}
	out := runOrder(t, order, bufferMgr, types, batches)
	got := make([]int64, 0, n)
	for _, val := range flattenCol(out, 0) {
		got = append(got, val.I64)
	}
	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i-1], got[i])
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	gotSorted := make([]int64, len(got))
	copy(gotSorted, got)
	sort.Slice(gotSorted, func(i, j int) bool { return gotSorted[i] < gotSorted[j] })
	require.Equal(t, want, gotSorted)
	//the emitted sequence is exactly the sorted input
	require.Equal(t, want, got)
}

func TestOrderExplain(t *testing.T) {
	types := []common.LType{common.IntegerType(), common.VarcharType()}
	orders := []*OrderByNode{
		{Child: NewColumnRef(0, common.IntegerType()), Desc: true},
	}
	order := NewPhysicalOrder(types, orders, 0, nil)
	explain := order.Explain()
	require.Contains(t, explain, "ORDER_BY")
	require.Contains(t, explain, "DESC")
	require.Contains(t, explain, "VARCHAR")
}
