/*
Package concurrency provides advanced concurrency primitives with observability.

Features:
  - SmartMutex / SmartRWMutex: Deadlock detection and slow lock logging
  - WorkerPool: Goroutine pool
  - SafeGo / FanOut: panic-recovering goroutine helpers
*/
package concurrency
