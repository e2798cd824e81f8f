// Package ledger describes the external collaborators the winner-selection
// pipeline drives: the lottery program that owns lottery state, the
// commit-reveal randomness oracle, and the client that submits signed
// instruction bundles and reports their confirmation status.
//
// Concrete implementations live in the gateway (HTTP ledger gateway) and
// memledger (in-process simulator) sub-packages.
package ledger
