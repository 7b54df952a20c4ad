// Package async provides background execution helpers: SafeGo for fire and
// forget work with panic recovery, and TaskQueue, a bounded non-blocking queue
// drained by a fixed worker set.
package async
