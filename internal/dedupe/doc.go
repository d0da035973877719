// Package dedupe suppresses repeats of the same event within a time window.
//
// The witness notifier uses it so a burst of signatures from one client
// with one key (a git rebase, a parallel fetch) produces a single
// notification rather than one per signature.
package dedupe
