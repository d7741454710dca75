package rgf

// leafTimer fires every inc leaves. A non-positive inc disables it.
type leafTimer struct {
	inc int
	chk int
}

func (t *leafTimer) reset(inc int) {
	t.inc = inc
	t.chk = -1
	if inc > 0 {
		t.chk = inc
	}
}

// ringing reports whether inp passed the next checkpoint and moves the
// checkpoint past inp.
func (t *leafTimer) ringing(inp int) bool {
	if t.chk <= 0 || inp < t.chk {
		return false
	}
	for t.chk <= inp {
		t.chk += t.inc
	}
	return true
}

// reachedMax reports whether inp is at or past the checkpoint without
// moving it.
func (t *leafTimer) reachedMax(inp int) bool {
	return t.chk > 0 && inp >= t.chk
}

// shift moves the checkpoint forward by a warm-start leaf count. A count
// one past a multiple of inc is rounded down so the first checkpoint after
// a root split is not skipped.
func (t *leafTimer) shift(leaves int) {
	if t.chk <= 0 {
		return
	}
	if leaves%t.inc == 1 {
		leaves--
	}
	t.chk += leaves
}

// adjustTestInterval aligns the test interval with the optimization
// interval: a larger one is rounded to a multiple, a smaller one to a
// divisor. With spilled trees it may not be smaller.
func adjustTestInterval(test, opt int, spill bool) int {
	switch {
	case spill && test < opt:
		return opt
	case test > opt:
		return (test + opt/2) / opt * opt
	case opt%test != 0:
		for div := opt / test; div > 0; div-- {
			if opt%div == 0 {
				return opt / div
			}
		}
	}
	return test
}
