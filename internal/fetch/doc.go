// Package fetch is the network collaborator of the album art cache. It hands
// out lazy payloads backed by a shared http.Client that never follows
// redirects on its own: the DownloadJob sees the status code and Location and
// decides whether to hop. Requests are throttled by a token bucket.
package fetch
