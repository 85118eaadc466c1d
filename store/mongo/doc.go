// Package mongo implements the store on the official MongoDB driver.
// Leases use FindOneAndUpdate with a (priority, scheduled_at, created_at,
// _id) sort; outcome transitions are optimistic, guarded by a per-job
// version counter.
//
//	s, err := mongo.Open(ctx, "mongodb://localhost:27017", "jobs")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
