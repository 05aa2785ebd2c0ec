package command

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merklekv/internal/errs"
	"merklekv/internal/metrics"
	"merklekv/internal/outbox"
	"merklekv/internal/publisher"
	"merklekv/internal/seqclock"
	"merklekv/internal/storage"
	"merklekv/internal/transport"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	store := storage.NewMemory()
	clock, err := seqclock.Open(filepath.Join(t.TempDir(), "n.seq"))
	require.NoError(t, err)
	t.Cleanup(func() { clock.Close() })

	mt := transport.NewMock()
	ob := outbox.OpenInMemory()
	pub := publisher.New(mt, ob, metrics.Nop{}, zerolog.Nop(), "merklekv")

	return New(store, clock, "nodeA", pub, metrics.Nop{}, zerolog.Nop())
}

func TestExecute_SetThenGet(t *testing.T) {
	p := newTestProcessor(t)

	setResp := p.Execute(Command{ID: "1", Op: OpSet, Key: "k", Value: "v"})
	assert.Equal(t, OK, setResp.Status)

	getResp := p.Execute(Command{ID: "2", Op: OpGet, Key: "k"})
	assert.Equal(t, OK, getResp.Status)
	assert.Equal(t, "v", getResp.Value)
}

func TestExecute_GetMissingKeyIsNotFound(t *testing.T) {
	p := newTestProcessor(t)
	resp := p.Execute(Command{ID: "1", Op: OpGet, Key: "missing"})
	assert.Equal(t, ERROR, resp.Status)
	assert.Equal(t, int(errs.NotFound), resp.ErrorCode)
}

func TestExecute_DelThenGetIsNotFound(t *testing.T) {
	p := newTestProcessor(t)
	require.Equal(t, OK, p.Execute(Command{ID: "1", Op: OpSet, Key: "k", Value: "v"}).Status)
	require.Equal(t, OK, p.Execute(Command{ID: "2", Op: OpDel, Key: "k"}).Status)

	resp := p.Execute(Command{ID: "3", Op: OpGet, Key: "k"})
	assert.Equal(t, ERROR, resp.Status)
	assert.Equal(t, int(errs.NotFound), resp.ErrorCode)
}

// S6: INCR on a key that has never been set behaves as if it started at 0.
func TestExecute_IncrOnMissingKeyStartsAtZero(t *testing.T) {
	p := newTestProcessor(t)
	resp := p.Execute(Command{ID: "1", Op: OpIncr, Key: "counter"})
	assert.Equal(t, OK, resp.Status)
	assert.Equal(t, "1", resp.Value)
}

func TestExecute_IncrDecrWithCustomAmount(t *testing.T) {
	p := newTestProcessor(t)
	amount := int64(5)
	require.Equal(t, "5", p.Execute(Command{ID: "1", Op: OpIncr, Key: "c", Amount: &amount}).Value)

	amount2 := int64(2)
	resp := p.Execute(Command{ID: "2", Op: OpDecr, Key: "c", Amount: &amount2})
	assert.Equal(t, "3", resp.Value)
}

func TestExecute_IncrOnNonNumericValueIsInvalidType(t *testing.T) {
	p := newTestProcessor(t)
	require.Equal(t, OK, p.Execute(Command{ID: "1", Op: OpSet, Key: "k", Value: "not-a-number"}).Status)

	resp := p.Execute(Command{ID: "2", Op: OpIncr, Key: "k"})
	assert.Equal(t, ERROR, resp.Status)
	assert.Equal(t, int(errs.InvalidType), resp.ErrorCode)
}

// Overflow is an int64 concern, not a ±9e15 one: a result beyond the amount
// bound but within int64 range must succeed.
func TestExecute_IncrResultBeyondAmountBoundStillSucceedsWithinInt64(t *testing.T) {
	p := newTestProcessor(t)
	require.Equal(t, OK, p.Execute(Command{ID: "1", Op: OpSet, Key: "k", Value: "9000000000000000000"}).Status)

	resp := p.Execute(Command{ID: "2", Op: OpIncr, Key: "k"})
	assert.Equal(t, OK, resp.Status)
	assert.Equal(t, "9000000000000000001", resp.Value)
}

func TestExecute_IncrOverflowIsRangeOverflow(t *testing.T) {
	p := newTestProcessor(t)
	require.Equal(t, OK, p.Execute(Command{ID: "1", Op: OpSet, Key: "k", Value: strconv.FormatInt(math.MaxInt64, 10)}).Status)

	resp := p.Execute(Command{ID: "2", Op: OpIncr, Key: "k"})
	assert.Equal(t, ERROR, resp.Status)
	assert.Equal(t, int(errs.RangeOverflow), resp.ErrorCode)
}

func TestExecute_IncrAmountZeroIsInvalidRequest(t *testing.T) {
	p := newTestProcessor(t)
	amount := int64(0)
	resp := p.Execute(Command{ID: "1", Op: OpIncr, Key: "c", Amount: &amount})
	assert.Equal(t, ERROR, resp.Status)
	assert.Equal(t, int(errs.InvalidRequest), resp.ErrorCode)
}

func TestExecute_IncrAmountOutOfRangeIsInvalidRequest(t *testing.T) {
	p := newTestProcessor(t)
	amount := int64(MaxIncrAmount + 1)
	resp := p.Execute(Command{ID: "1", Op: OpIncr, Key: "c", Amount: &amount})
	assert.Equal(t, ERROR, resp.Status)
	assert.Equal(t, int(errs.InvalidRequest), resp.ErrorCode)
}

func TestExecute_AppendPrepend(t *testing.T) {
	p := newTestProcessor(t)
	require.Equal(t, OK, p.Execute(Command{ID: "1", Op: OpSet, Key: "k", Value: "b"}).Status)

	resp := p.Execute(Command{ID: "2", Op: OpAppend, Key: "k", Value: "c"})
	assert.Equal(t, "bc", resp.Value)

	resp = p.Execute(Command{ID: "3", Op: OpPrepend, Key: "k", Value: "a"})
	assert.Equal(t, "abc", resp.Value)
}

func TestExecute_AppendOnMissingKeyStartsEmpty(t *testing.T) {
	p := newTestProcessor(t)
	resp := p.Execute(Command{ID: "1", Op: OpAppend, Key: "k", Value: "x"})
	assert.Equal(t, "x", resp.Value)
}

// S7: a value beyond MaxValueBytes is rejected as PayloadTooLarge.
func TestExecute_SetOversizedValueIsPayloadTooLarge(t *testing.T) {
	p := newTestProcessor(t)
	resp := p.Execute(Command{ID: "1", Op: OpSet, Key: "k", Value: strings.Repeat("x", MaxValueBytes+1)})
	assert.Equal(t, ERROR, resp.Status)
	assert.Equal(t, int(errs.PayloadTooLarge), resp.ErrorCode)
}

func TestExecute_MSetThenMGet(t *testing.T) {
	p := newTestProcessor(t)
	resp := p.Execute(Command{ID: "1", Op: OpMSet, KeyValues: []KVPair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}})
	require.Equal(t, OK, resp.Status)
	require.Len(t, resp.Results, 2)

	getResp := p.Execute(Command{ID: "2", Op: OpMGet, Keys: []string{"a", "b", "missing"}})
	require.Len(t, getResp.Results, 3)

	byKey := map[string]ItemResult{}
	for _, r := range getResp.Results {
		byKey[r.Key] = r
	}
	assert.Equal(t, "1", byKey["a"].Value)
	assert.Equal(t, "2", byKey["b"].Value)
	assert.Equal(t, int(errs.NotFound), byKey["missing"].ErrorCode)
}

// MSET must process pairs in submission order: results[] lines up with the
// order the client sent them in, not map iteration order.
func TestExecute_MSetProcessesPairsInSubmissionOrder(t *testing.T) {
	p := newTestProcessor(t)
	pairs := []KVPair{{Key: "z", Value: "1"}, {Key: "a", Value: "2"}, {Key: "m", Value: "3"}}
	resp := p.Execute(Command{ID: "1", Op: OpMSet, KeyValues: pairs})
	require.Equal(t, OK, resp.Status)
	require.Len(t, resp.Results, 3)

	for i, kv := range pairs {
		assert.Equal(t, kv.Key, resp.Results[i].Key)
	}
}

func TestExecute_IdempotentReplayReturnsCachedResponse(t *testing.T) {
	p := newTestProcessor(t)
	first := p.Execute(Command{ID: "dup", Op: OpIncr, Key: "c"})
	second := p.Execute(Command{ID: "dup", Op: OpIncr, Key: "c"})

	assert.Equal(t, first, second, "replaying the same request id must not apply the op twice")

	// A fresh request id does observe the effect of the first call.
	third := p.Execute(Command{ID: "other", Op: OpIncr, Key: "c"})
	assert.Equal(t, "2", third.Value)
}

func TestExecute_InvalidKeyIsInvalidRequest(t *testing.T) {
	p := newTestProcessor(t)
	resp := p.Execute(Command{ID: "1", Op: OpGet, Key: ""})
	assert.Equal(t, ERROR, resp.Status)
	assert.Equal(t, int(errs.InvalidRequest), resp.ErrorCode)
}

func TestExecute_UnknownOpIsInvalidRequest(t *testing.T) {
	p := newTestProcessor(t)
	resp := p.Execute(Command{ID: "1", Op: "BOGUS"})
	assert.Equal(t, ERROR, resp.Status)
	assert.Equal(t, int(errs.InvalidRequest), resp.ErrorCode)
}
