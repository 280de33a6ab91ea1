// Package redis implements job.Store on Redis for hosts that already run
// one and want several processes to share a queue.
//
// Each job is a Hash holding a msgpack record plus its status. A Sorted
// Set orders pending jobs by priority then age, and one Sorted Set per
// status backs listing and stats. Claims run as a Lua compare-and-set so
// exactly one caller moves a job from pending to running.
//
// The caller owns the client:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
