// Package sink delivers finished segment files to an external HTTP collaborator.
// Uploads are multipart POSTs with bearer authentication, retried with exponential
// backoff and bounded by a concurrency limit.
package sink
