// Package store persists agent memory snapshots in Redis.
//
// Each tier of each agent lives under its own key,
// agent:<name>:mem:<tier>, as a CBOR array of memory items encoded with
// core deterministic encoding, so equal snapshots produce equal bytes.
//
//	s, err := store.NewRedisStore(store.RedisOptions{URL: "redis://localhost:6379"})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	err = store.SaveSnapshot(ctx, s, "Alice Smith", mgr.Snapshot())
package store
