package shapetracker

// mergeReshape decides whether oldShape/oldStrides can be regrouped into
// newShape without copying, and if so computes the resulting strides. It is
// the same axis-merge/-split test simplify_merge_adjacent relies on, applied
// greedily across cumulative-product groups - the standard "view merge"
// algorithm also found in NumPy's array reshape.
func mergeReshape(oldShape, oldStrides, newShape []int64) ([]int64, bool) {
	oldN, newN := len(oldShape), len(newShape)
	newStrides := make([]int64, newN)

	oi, ni := 0, 0
	for oi < oldN && ni < newN {
		oj, nj := oi+1, ni+1
		npOld, npNew := oldShape[oi], newShape[ni]

		for npOld != npNew {
			if npOld < npNew {
				if oj >= oldN {
					return nil, false
				}
				npOld *= oldShape[oj]
				oj++
			} else {
				if nj >= newN {
					return nil, false
				}
				npNew *= newShape[nj]
				nj++
			}
		}

		// old axes [oi, oj) must chain contiguously (size-1 axes are free).
		for k := oj - 2; k >= oi; k-- {
			if oldShape[k+1] == 1 {
				continue
			}
			if oldShape[k] != 1 && oldStrides[k] != oldStrides[k+1]*oldShape[k+1] {
				return nil, false
			}
		}

		// Assign strides for the new axes [ni, nj) by splitting the merged
		// old stride from innermost to outermost.
		newStrides[nj-1] = oldStrides[oj-1]
		for k := nj - 2; k >= ni; k-- {
			newStrides[k] = newStrides[k+1] * newShape[k+1]
		}

		oi, ni = oj, nj
	}

	// Any trailing size-1 axes on either side are always mergeable/free.
	for ; ni < newN; ni++ {
		if newShape[ni] != 1 {
			return nil, false
		}
		newStrides[ni] = 0
	}
	for ; oi < oldN; oi++ {
		if oldShape[oi] != 1 {
			return nil, false
		}
	}

	return newStrides, true
}
