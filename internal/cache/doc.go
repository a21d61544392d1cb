// Package cache stores successful GET responses in memory, keyed by a
// canonical request signature, with a fixed time-to-live.
//
// Keys are built from the method, the path without trailing slashes and a
// canonical query string: every value of the format selector comes first,
// followed by the remaining parameters sorted by name. Two requests that
// differ only in parameter order share an entry; requests that ask for a
// different format never do.
//
// Entries expire lazily on lookup. Writes elsewhere in the system drop
// cached reads with Invalidate, which removes every key containing a
// substring. Each invalidation advances a generation counter so a fetch
// that started before a write can refuse to store its now stale result
// (see StoreIfGeneration).
//
//	c := cache.New(60 * time.Second)
//	if entry, ok := c.Lookup(http.MethodGet, "/items?limit=5"); ok {
//		// replay entry
//	}
//	c.Store(http.MethodGet, "/items?limit=5", body, header, http.StatusOK)
//	c.Invalidate("/items")
package cache
