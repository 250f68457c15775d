// Package cache is a redis-backed JSON result cache. Analyzer wraps an
// advisor.Analyzer so repeated analyses of the same ingredients are served
// from redis.
package cache
