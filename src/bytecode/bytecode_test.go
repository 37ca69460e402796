package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytecodeABCD(t *testing.T) {
	t.Parallel()
	t.Run("iAB", func(t *testing.T) {
		t.Parallel()
		code := IAB(MOVE, 12, 22)
		assert.Equal(t, MOVE, GetOp(code))
		assert.Equal(t, int64(12), GetA(code))
		assert.Equal(t, int64(22), GetB(code))
		assert.Equal(t, int64(0), GetC(code))
		assert.Equal(t, int64(0), GetD(code))
		assert.Equal(t, TypeABCD, Kind(code))
	})

	t.Run("iABCD", func(t *testing.T) {
		t.Parallel()
		code := IABCD(CALL, NoTarget, 300, 301, 4)
		assert.Equal(t, CALL, GetOp(code))
		assert.Equal(t, int64(NoTarget), GetA(code))
		assert.Equal(t, int64(300), GetB(code))
		assert.Equal(t, int64(301), GetC(code))
		assert.Equal(t, int64(4), GetD(code))
		assert.Equal(t, TypeABCD, Kind(code))
	})

	t.Run("signed c and d", func(t *testing.T) {
		t.Parallel()
		code := IABsC(AND, 3, 4, -20)
		assert.Equal(t, int64(-20), GetsC(code))
		code = SetsC(code, 17)
		assert.Equal(t, int64(17), GetsC(code))
		assert.Equal(t, int64(4), GetB(code))
		code = SetsD(IABCD(INCL, 1, 1, 0, 0), -1)
		assert.Equal(t, int64(-1), GetsD(code))
		assert.Equal(t, int64(1), GetB(code))
	})

	t.Run("iABx", func(t *testing.T) {
		t.Parallel()
		code := IABx(LOAD, 12, 70_000)
		a, x := GetA(code), GetBx(code)
		assert.Equal(t, LOAD, GetOp(code))
		assert.Equal(t, int64(12), a)
		assert.Equal(t, int64(70_000), x)
		assert.Equal(t, TypeABx, Kind(code))
	})

	t.Run("iAsBx", func(t *testing.T) {
		t.Parallel()
		code := IAsBx(JMP, 12, -300_000)
		a, xs := GetA(code), GetsBx(code)
		assert.Equal(t, JMP, GetOp(code))
		assert.Equal(t, int64(12), a)
		assert.Equal(t, int64(-300_000), xs)
		assert.Equal(t, TypeAsBx, Kind(code))

		patched := SetsBx(code, 42)
		assert.Equal(t, JMP, GetOp(patched))
		assert.Equal(t, int64(12), GetA(patched))
		assert.Equal(t, int64(42), GetsBx(patched))
	})

	t.Run("ToString", func(t *testing.T) {
		t.Parallel()
		assert.Contains(t, ToString(IAsBx(LOADINT, 1, -5)), "LOADINT")
		assert.Contains(t, ToString(IAsBx(LOADINT, 1, -5)), "-5")
		assert.Equal(t, "UNDEFINED", Op(250).String())
		assert.Equal(t, TypeEx, Kind(uint64(250)))
	})
}
