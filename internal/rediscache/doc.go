// Package rediscache stores completed callback responses in Redis so that
// every gateway instance behind a load balancer sees the same replies.
//
// Only completed responses are shared. In-flight executions stay local to
// each instance, so two instances receiving the same message at the same
// moment may both run the handler once.
package rediscache
