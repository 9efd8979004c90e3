// Package crawler defines the records, pages, and collaborator interfaces
// shared by the harvest pipeline: fetcher, extractor, record stores, worker,
// and dispatcher.
package crawler
