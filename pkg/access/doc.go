// Package access decides which modules a user may open.
//
// The grant relation (user, module) is the only source of truth. Each
// mutation goes through Engine, which serializes writers on the
// (user, course) pair with a Locker and lets the store apply the grant
// change and recompute the derived course-id caches in one transaction.
//
// Two lockers are provided: LocalLocker for a single process and
// RedisLocker for several replicas sharing a Redis instance.
package access
