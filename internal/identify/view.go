package identify

import (
	"strconv"

	"github.com/joeblew999/kickbox/internal/mapwidget"
)

// Popup element selectors.
const (
	selBlocker        = ".blocker"
	selResultCount    = ".result-count"
	selNoResults      = ".no-results"
	selRecordIndex    = ".record-index"
	selFiltersApplied = ".filters-applied"
	selFilterView     = ".filter-view"
	selFilterExpr     = ".filter-expression"
	selBtnNext        = ".btn-next"
	selBtnPrev        = ".btn-prev"
	selBtnFilterView  = ".btn-filter-view"
	selBtnApplyFilter = ".btn-apply-filter"
	selBtnClearFilter = ".btn-clear-filter"
	clickEvent        = "click"
)

// ui wraps the popup view with the identify popup's widgets.
type ui struct {
	v mapwidget.PopupView
}

func (u ui) showLoading() { u.v.Show(selBlocker) }
func (u ui) hideLoading() { u.v.Hide(selBlocker) }

func (u ui) showResultCount() {
	u.v.Hide(selNoResults)
	u.v.Show(selResultCount)
}

func (u ui) noResultsFound() {
	u.v.Show(selNoResults)
	u.v.Hide(selResultCount)
}

func (u ui) appliedFilter() { u.v.Show(selFiltersApplied) }
func (u ui) removedFilter() { u.v.Hide(selFiltersApplied) }

// toggleFilterView opens or closes the filter panel. The button that toggles
// it stays visible.
func (u ui) toggleFilterView() { u.v.Toggle(selFilterView) }

func (u ui) expression() string { return u.v.Value(selFilterExpr) }
func (u ui) clearExpression()   { u.v.SetValue(selFilterExpr, "") }

// setActiveRecord highlights slot index on the page and shows the 1-based
// global position.
func (u ui) setActiveRecord(index, recordIndex int) {
	u.v.SetActiveRecord(index)
	u.v.SetValue(selRecordIndex, strconv.Itoa(recordIndex+1))
}
