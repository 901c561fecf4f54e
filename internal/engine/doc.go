// Package engine turns replication messages into ordered backend writes.
//
// ARCHITECTURE:
//
// Message Processing Flow:
//  1. A message (partner, cursor, combined update) arrives via Enqueue or a
//     direct ProcessMessage call
//  2. A message whose cursor does not pass the stored partner cursor is
//     skipped as stale
//  3. The combined update is split into units in ascending USN order
//  4. Each unit gets a content-addressed ID; units already in the partner's
//     ledger are skipped
//  5. The remaining units are dispatched one by one; the first failure
//     discards the rest of the message
//  6. Every applied unit is recorded in the ledger, then the partner cursor
//     advances to the highest USN of the message
//
// Partner Workers:
// Run starts one worker goroutine per partner under an errgroup. Messages of
// one partner are applied strictly in arrival order; different partners
// proceed in parallel and meet only in the store's write transactions.
//
// Logical Clock:
// Ledger rows and cursor updates are stamped with a monotonic seq from
// SeqSource. Wall-clock time never orders anything.
package engine
