package handle

import (
	"reflect"
	"testing"
)

func TestOwned(t *testing.T) {
	t.Run("close releases exactly once", func(t *testing.T) {
		released := 0
		o := NewOwned(7, 0, func(int) { released++ })

		o.Close()
		o.Close()
		o.Close()

		if released != 1 {
			t.Errorf("release ran %d times, want 1", released)
		}
	})

	t.Run("invalid sentinel is never released", func(t *testing.T) {
		released := 0
		o := NewOwned(-1, -1, func(int) { released++ })

		if o.Valid() {
			t.Error("Valid() = true for sentinel value")
		}
		o.Close()

		if released != 0 {
			t.Errorf("release ran %d times, want 0", released)
		}
	})

	t.Run("get after close returns sentinel", func(t *testing.T) {
		o := NewOwned(42, -1, func(int) {})

		if got := o.Get(); got != 42 {
			t.Errorf("Get() = %d, want 42", got)
		}
		o.Close()
		if got := o.Get(); got != -1 {
			t.Errorf("Get() after Close = %d, want -1", got)
		}
	})

	t.Run("detach skips release", func(t *testing.T) {
		released := 0
		o := NewOwned(42, -1, func(int) { released++ })

		if got := o.Detach(); got != 42 {
			t.Errorf("Detach() = %d, want 42", got)
		}
		o.Close()

		if released != 0 {
			t.Errorf("release ran %d times after Detach, want 0", released)
		}
	})
}

func TestGuard(t *testing.T) {
	t.Run("runs actions in reverse order", func(t *testing.T) {
		var g Guard
		var order []int
		for i := 1; i <= 3; i++ {
			g.Defer(func() { order = append(order, i) })
		}

		g.Release()

		want := []int{3, 2, 1}
		if !reflect.DeepEqual(order, want) {
			t.Errorf("release order = %v, want %v", order, want)
		}
	})

	t.Run("release is idempotent", func(t *testing.T) {
		var g Guard
		runs := 0
		g.Defer(func() { runs++ })

		g.Release()
		g.Release()

		if runs != 1 {
			t.Errorf("action ran %d times, want 1", runs)
		}
	})

	t.Run("defer after release is ignored", func(t *testing.T) {
		var g Guard
		g.Release()

		runs := 0
		g.Defer(func() { runs++ })
		g.Release()

		if runs != 0 {
			t.Errorf("late action ran %d times, want 0", runs)
		}
	})

	t.Run("empty guard releases cleanly", func(t *testing.T) {
		var g Guard
		g.Release()
	})
}
