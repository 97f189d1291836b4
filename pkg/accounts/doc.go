// Package accounts implements registration, self-service profile changes
// and admin user management.
//
// The first account to register with the configured admin email becomes an
// admin; everyone else starts as a reader.
package accounts
