// Package redis implements the store on go-redis. Jobs are Hashes; every
// (job type, priority) pair has its own ready Sorted Set scored by
// scheduled time, and a Lua script claims the best head across them so
// a lease is one atomic server-side step.
//
// Outcome transitions use WATCH/MULTI on the job Hash and retry on
// conflict. Recurrences are JSON strings with a name index Hash.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
