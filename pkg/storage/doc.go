// Package storage defines the persistence boundaries of the course marketplace.
//
// # Record store
//
// RecordStore combines three focused interfaces:
//
//   - UserStore: accounts and lookups by email
//   - CourseStore: courses and their module/lesson tree, including cascading deletes
//   - AccessStore: the per-module grant relation and its derived caches
//
// The grant relation is the only source of truth for access. The
// AccessibleCourseIDs field on a user and UserAccessIDs on a course are
// recomputed from grants inside every mutation and never patched by hand.
//
// MemoryStore implements RecordStore in process and is used for the memory
// database mode and for tests. The PostgreSQL implementation lives in
// storage/postgres.
//
// # Blob store
//
// BlobStore keeps attachment bytes behind an opaque Handle:
//
//	handle, err := blobs.Put(ctx, data, "application/pdf", storage.BlobKey("pdf", "7-intro.pdf"))
//	data, contentType, err := blobs.Get(ctx, handle)
//
// FilesystemBlobStore writes each blob with a JSON ".meta" sidecar holding the
// content type and checksum. The S3 implementation lives in storage/postgres.
package storage
