package claims

// Merge computes the canonical claim set. It starts from route and applies
// each explicit claims map in order: Unset deletes the key, Set overwrites,
// Keep leaves the accumulator alone. The result holds only Set entries.
func Merge(route Claims, explicit ...Claims) Claims {
	acc := make(Claims, len(route))
	for k, op := range route {
		if op.IsSet() {
			acc[k] = op
		}
	}
	for _, e := range explicit {
		for k, op := range e {
			switch {
			case op.IsUnset():
				delete(acc, k)
			case op.IsSet():
				acc[k] = op
			}
		}
	}
	return acc
}

// Apply shallow-merges partial into base and returns the result. Keep
// entries in partial leave base untouched; Set and Unset entries replace
// the base entry. base is not modified.
func Apply(base, partial Claims) Claims {
	out := base.Clone()
	if out == nil {
		out = make(Claims, len(partial))
	}
	for k, op := range partial {
		if op.IsKeep() {
			continue
		}
		out[k] = op
	}
	return out
}

// ClearConflicts drops explicit Set entries that pinned the previous route
// value of a key whose route value changed. The returned bool reports
// whether anything was dropped. explicit is not modified.
func ClearConflicts(oldRoute, newRoute, explicit Claims) (Claims, bool) {
	if len(explicit) == 0 {
		return explicit, false
	}
	var out Claims
	for k, op := range explicit {
		v, ok := op.Value()
		if !ok {
			continue
		}
		oldV, hadOld := oldRoute.Get(k)
		if !hadOld || oldV != v {
			continue
		}
		if newV, hasNew := newRoute.Get(k); hasNew && newV == oldV {
			continue
		}
		if out == nil {
			out = explicit.Clone()
		}
		delete(out, k)
	}
	if out == nil {
		return explicit, false
	}
	return out, true
}
