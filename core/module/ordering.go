package module

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core"
)

const orderField = "modules"

// MaxSortOrder is the largest sortorder the database column holds.
const MaxSortOrder = math.MaxInt32

var (
	incompleteOrderText = "The submitted order must include every module of the experiment exactly once."
	negativeOrderText   = "Sort orders cannot be negative."
	orderTooLargeText   = "Sort orders cannot be greater than 2147483647."
	breakEndsEarlyText  = "A break cannot end before it starts."
	breaksOverlapText   = "Breaks cannot overlap."
)

type breakInterval struct {
	start, end int
}

// Sort orders modules by (sortorder, id).
func Sort(mods []Module) {
	sort.SliceStable(mods, func(i, j int) bool {
		if mods[i].SortOrder != mods[j].SortOrder {
			return mods[i].SortOrder < mods[j].SortOrder
		}
		return mods[i].ID < mods[j].ID
	})
}

// CheckOrder validates a full reordering of an experiment's modules, given as {module id: sortorder}.
// Every break pair must end after it starts and no two breaks may overlap.
func CheckOrder(mods []Module, order map[int]int) error {
	if len(order) != len(mods) {
		return core.NewFieldError(orderField, incompleteOrderText)
	}
	for _, m := range mods {
		if _, ok := order[m.ID]; !ok {
			return core.NewFieldError(orderField, incompleteOrderText)
		}
	}
	for _, pos := range order {
		if pos < 0 {
			return core.NewFieldError(orderField, negativeOrderText)
		}
		if pos > MaxSortOrder {
			return core.NewFieldError(orderField, orderTooLargeText)
		}
	}

	intervals := make([]breakInterval, 0)
	for _, m := range mods {
		if m.Kind != BreakEnd || !m.BreakStartID.Valid {
			continue
		}
		startPos, ok := order[m.BreakStartID.Int]
		if !ok {
			return errors.Errorf("break end %d: break start %d is not part of the experiment", m.ID, m.BreakStartID.Int)
		}
		endPos := order[m.ID]
		if endPos <= startPos {
			return core.NewFieldError(orderField, breakEndsEarlyText)
		}
		intervals = append(intervals, breakInterval{start: startPos, end: endPos})
	}

	for i := range intervals {
		for j := i + 1; j < len(intervals); j++ {
			a, b := intervals[i], intervals[j]
			if a.start <= b.end && b.start <= a.end {
				return core.NewFieldError(orderField, breaksOverlapText)
			}
		}
	}
	return nil
}
