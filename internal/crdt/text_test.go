package crdt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// opsForText builds one insert op per rune, with pids that sort in order.
func opsForText(prefix, text string) []Op {
	ops := make([]Op, 0, len(text))
	for i, r := range text {
		ops = append(ops, Op{
			Action: ActionInsert,
			Pid:    fmt.Sprintf("%s%04d", prefix, i),
			Value:  string(r),
		})
	}
	return ops
}

func mustEncode(t *testing.T, ops []Op) []byte {
	t.Helper()
	buf, err := EncodeOps(ops)
	require.NoError(t, err)
	return buf
}

func TestApplyUpdateRendersText(t *testing.T) {
	engine := NewTextEngine()
	r := engine.New().(*TextReplica)

	require.NoError(t, r.ApplyUpdate(mustEncode(t, opsForText("a", "hello"))))
	assert.Equal(t, "hello", r.Text())
}

func TestUpdatesCommute(t *testing.T) {
	engine := NewTextEngine()

	u1 := mustEncode(t, opsForText("a", "abc"))
	u2 := mustEncode(t, opsForText("b", "xyz"))
	u3 := mustEncode(t, []Op{{Action: ActionDelete, Pid: "a0001"}})

	orders := [][][]byte{
		{u1, u2, u3},
		{u1, u3, u2},
		{u2, u1, u3},
		{u2, u3, u1},
		{u3, u1, u2},
		{u3, u2, u1},
	}

	var want []byte
	for i, order := range orders {
		r := engine.New().(*TextReplica)
		for _, u := range order {
			require.NoError(t, r.ApplyUpdate(u))
		}
		if i == 0 {
			want = r.EncodeState()
			assert.Equal(t, "acxyz", r.Text())
			continue
		}
		assert.Equal(t, want, r.EncodeState(), "delivery order %d diverged", i)
	}
}

func TestUpdatesIdempotent(t *testing.T) {
	engine := NewTextEngine()
	r := engine.New().(*TextReplica)

	u := mustEncode(t, opsForText("a", "dup"))
	require.NoError(t, r.ApplyUpdate(u))
	once := r.EncodeState()

	require.NoError(t, r.ApplyUpdate(u))
	require.NoError(t, r.ApplyUpdate(u))
	assert.Equal(t, once, r.EncodeState())
}

func TestDeleteBeforeInsertCommutes(t *testing.T) {
	engine := NewTextEngine()

	ins := mustEncode(t, []Op{{Action: ActionInsert, Pid: "p1", Value: "x"}})
	del := mustEncode(t, []Op{{Action: ActionDelete, Pid: "p1"}})

	a := engine.New().(*TextReplica)
	require.NoError(t, a.ApplyUpdate(ins))
	require.NoError(t, a.ApplyUpdate(del))

	b := engine.New().(*TextReplica)
	require.NoError(t, b.ApplyUpdate(del))
	require.NoError(t, b.ApplyUpdate(ins))

	assert.Equal(t, a.EncodeState(), b.EncodeState())
	assert.Equal(t, "", a.Text())
	assert.Equal(t, "", b.Text())
}

func TestEncodeRestoreRoundTripIsByteStable(t *testing.T) {
	engine := NewTextEngine()
	r := engine.New().(*TextReplica)
	require.NoError(t, r.ApplyUpdate(mustEncode(t, opsForText("a", "stable"))))
	require.NoError(t, r.ApplyUpdate(mustEncode(t, []Op{{Action: ActionDelete, Pid: "a0002"}})))

	first := r.EncodeState()

	restored, err := engine.Restore(first)
	require.NoError(t, err)
	assert.Equal(t, first, restored.EncodeState())

	// and once more through another generation
	again, err := engine.Restore(restored.EncodeState())
	require.NoError(t, err)
	assert.Equal(t, first, again.EncodeState())
}

func TestRestoreEmptySnapshot(t *testing.T) {
	engine := NewTextEngine()

	r, err := engine.Restore(nil)
	require.NoError(t, err)
	assert.Equal(t, "", r.(*TextReplica).Text())

	r, err = engine.Restore([]byte{})
	require.NoError(t, err)
	assert.Equal(t, "", r.(*TextReplica).Text())
}

func TestMalformedUpdateRejectedWithoutPartialApply(t *testing.T) {
	engine := NewTextEngine()
	r := engine.New().(*TextReplica)
	require.NoError(t, r.ApplyUpdate(mustEncode(t, opsForText("a", "keep"))))
	before := r.EncodeState()

	assert.ErrorIs(t, r.ApplyUpdate([]byte("not json")), ErrRejected)

	// one valid op followed by an invalid one must not half-apply
	mixed := mustEncode(t, []Op{
		{Action: ActionInsert, Pid: "z1", Value: "!"},
		{Action: "explode", Pid: "z2"},
	})
	assert.ErrorIs(t, r.ApplyUpdate(mixed), ErrRejected)

	assert.Equal(t, before, r.EncodeState())
}

func TestRestoreMalformedSnapshot(t *testing.T) {
	engine := NewTextEngine()
	_, err := engine.Restore([]byte("garbage"))
	assert.ErrorIs(t, err, ErrRejected)
}
