// Package cache implements the per-device album art cache. Artwork URLs are
// hashed into stable keys and stored as <CacheRoot>/<device>/albumart/<key>.<ext>.
// The Store owns the on-disk index and the registry of in-flight DownloadJobs,
// guaranteeing at most one download per key. All index and registry mutations
// run on a single event loop; DownloadJobs delegate network and file copies to
// goroutines that report back through that loop. A failed download leaves a
// zero-length marker file behind instead of deleting the destination.
package cache
