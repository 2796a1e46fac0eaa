// Package storage persists the generation archive: one record per terminal
// request, queryable for recent history and pruned on a schedule.
package storage
