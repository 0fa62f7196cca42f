// Package server hosts the Fiber HTTP service that exposes the album art cache:
// cached artwork is served by image identifier, fetches are triggered through
// the /-/ diagnostics surface, and every response carries an X-Request-ID.
// Keep exports narrow and accept explicit dependencies.
package server
