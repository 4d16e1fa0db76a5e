/*
Core implements the signal-to-order execution engine.

# Module
  - event queue: serializes market ticks, submission results and broker callbacks onto one loop
  - tick board: per-symbol latest-wins coalescing between the feed and the loop
  - strategy runtime: single-threaded signal evaluation against recent ticks
  - risk gate: clamps every intent against the capital caps before submission

# Source
 1. quotes from the ingest feed (websocket or simulated)
 2. broker callbacks through the serialized queue
 3. day-boundary and stop control events

# Produce
  - sized orders to the og executor

# Ordering
  - sells are evaluated before buys on every tick so freed capacity is
    visible to later buys in the same session
*/
package core
