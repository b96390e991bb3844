// Package audit records who changed what in the marketplace.
//
// Every access grant, revoke and bulk-set is recorded together with the
// acting subject and request id, as are logins, registrations and catalog
// mutations. Events are plain JSON documents (AuditEvent) and can be sent to
// several sinks at once:
//
//   - LogrusLogger writes them into the service log, tagged audit=true
//   - FileLogger appends them to a rotated JSON-lines file
//   - MultiLogger fans out to any combination of the above
//
// # Usage
//
//	logger := audit.NewMultiLogger(audit.NewLogrusLogger(log), fileLogger)
//	logger.LogAccessChange(ctx, audit.AccessChange{
//		Action:    audit.EventTypeAccessGrant,
//		UserID:    buyerID,
//		CourseID:  courseID,
//		ModuleIDs: []int64{moduleID},
//		Changed:   true,
//	})
//
// The actor is read from the request context (see auth.WithSubject), so
// callers only describe the target of the change.
package audit
