/*
Package api wires the HTTP surface of the proxy.

Public routes:

	GET  /login                      login page state and the one-shot notice
	POST /login                      local check, then token issue (rate limited)
	POST /logout                     clear the session cookie
	POST /register                   create a reader account
	GET  /.well-known/terraform.json backend service discovery

Session routes (redirect to /login without a valid session):

	GET  /                           index: user, namespaces, providers
	GET  /profile, PUT /profile      the caller's account
	GET  /repositories               registered repositories
	POST /repositories               register a GitHub repository
	GET  /v1/modules/...             registry reads, namespace filtered
	GET  /admin/users                user management (manage:users)
	PUT  /admin/users/{id}

Service errors are mapped to status codes in one place, errorStatus, so that
handlers only ever call writeError.
*/
package api
