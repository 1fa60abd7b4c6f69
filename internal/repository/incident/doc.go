// Package incident implements persistence for the incident history.
//
// The FileRepository stores and loads incidents as JSON on disk and satisfies
// the store interface the dispatch coordinator depends on.
package incident
