// Package checklist holds the shared, subscribable compliance checklist
// document every conversation observes.
//
// The Store owns a fixed set of reviewable items created at process start.
// Items are mutated only through Update (alias-normalized statuses, locator
// resolution by id, 1-based number or question substring) and Reset. Every
// mutation pushes a serialized snapshot to all live subscribers; fan-out is
// best effort and never blocks or fails the mutating side.
//
// The package also registers the two domain tools the model calls to drive
// the review: update_checklist_item_status and reset_checklist.
package checklist
