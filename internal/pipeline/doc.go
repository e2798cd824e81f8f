// Package pipeline implements the winner-selection workflow as a
// forward-only sequence of named steps against the ledger program and the
// randomness oracle:
//
//	fetch_lottery -> validate -> create_randomness -> commit_randomness -> reveal_and_select
//
// Every step records an info entry before it runs and a success or error
// entry after it finishes. The first failing step aborts the run. Nothing is
// rolled back: a created or committed randomness account left behind by a
// failed run stays on the ledger for inspection.
package pipeline
