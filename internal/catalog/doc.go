// Package catalog persists cooked resource records and job history in
// SQLite. The aggregators preload recorded signatures on startup so
// re-imports of unchanged content reuse the bytes already in the data
// files instead of cooking them again.
package catalog
