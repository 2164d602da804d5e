// Package policy encodes the free-tier feature gates. Every function is
// pure and total: entitlement state arrives as an explicit parameter, so
// the package is safe to call from rendering code on every frame.
package policy

import "time"

// Module identifies one of the five daily guide modules.
type Module string

const (
	ModuleDress  Module = "dress"  // energy dressing (free)
	ModuleFood   Module = "food"   // seasonal eating
	ModuleSpace  Module = "space"  // body and space
	ModuleAction Module = "action" // action guide
	ModuleAnchor Module = "anchor" // mind anchor (free)
)

// Modules lists all guide modules in display order.
func Modules() []Module {
	return []Module{ModuleDress, ModuleFood, ModuleSpace, ModuleAction, ModuleAnchor}
}

// Free reports whether the module is on the free-tier allowlist.
func (m Module) Free() bool {
	return m == ModuleDress || m == ModuleAnchor
}

// freeWindowDays is the free-tier calendar window: today and tomorrow.
const freeWindowDays = 2

// CanAccessDate reports whether the given calendar date may be viewed.
// Premium always may; the free tier sees a two-day window starting at
// today, compared at day granularity in today's location.
func CanAccessDate(date, today time.Time, isPremium bool) bool {
	if isPremium {
		return true
	}

	start := startOfDay(today)
	end := start.AddDate(0, 0, freeWindowDays)
	target := startOfDay(date)

	return !target.Before(start) && target.Before(end)
}

// AccessibleDateRange returns the inclusive free-tier window [start, end]
// for a given today. Premium callers have no window; they should not
// consult this.
func AccessibleDateRange(today time.Time) (start, end time.Time) {
	start = startOfDay(today)
	return start, start.AddDate(0, 0, freeWindowDays-1)
}

// CanAccessModule reports whether the given guide module may be opened.
func CanAccessModule(m Module, isPremium bool) bool {
	if isPremium {
		return true
	}

	return m.Free()
}

// CanViewDetailContent gates the element card detail sheet.
func CanViewDetailContent(isPremium bool) bool {
	return isPremium
}

// CanInstallWidget gates home-screen widget installation.
func CanInstallWidget(isPremium bool) bool {
	return isPremium
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
