// Package repositories registers GitHub repositories as module sources.
//
// Only https?://github.com/<owner>/<repo> URLs are accepted. The owner
// becomes the namespace and must be accessible to the caller, who also
// needs the upload:module permission.
package repositories
