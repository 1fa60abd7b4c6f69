// Package dispatch turns level transitions into response actions.
//
// Every transition is mapped through the configured Plan into one task per
// action. Tasks of one transition run concurrently, tasks of one action kind
// run strictly one after another. A newer transition cancels the outstanding
// tasks it supersedes. Failed attempts are retried with exponential backoff,
// SMS falls back once to secondary contacts, and a permanent failure to
// reach the authorities is reported as a CriticalDispatchFailure.
package dispatch
